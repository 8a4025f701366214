package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/config"
	"github.com/sweeney/devicecore/internal/gpio"
	"github.com/sweeney/devicecore/internal/modbusadc"
	"github.com/sweeney/devicecore/internal/mqtt"
	"github.com/sweeney/devicecore/internal/settings"
	"github.com/sweeney/devicecore/internal/web"
	"github.com/sweeney/devicecore/internal/wifi"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the controller",
	Long: `Start the controller loop, the HTTP runtime endpoints and the MQTT
publisher. Runs until SIGINT or SIGTERM.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c closers) close(logger *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}
}

func openStore(cfg config.SettingsConfig) (settings.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendFile:
		store, err := settings.OpenFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		store := settings.NewRedisStore(client, cfg.RedisHash)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return store, store.Close, nil
	}
	return settings.NewMemoryStore(), func() error { return nil }, nil
}

// openHardware acquires the real collaborators described by cfg.
func openHardware(cfg *config.Config, logger *zap.Logger, withRadio, withMQTT bool) (*hardware, closers, error) {
	var done closers
	fail := func(err error) (*hardware, closers, error) {
		done.close(logger)
		return nil, nil, err
	}
	hw := &hardware{}

	driver, err := gpio.NewRealDriver(cfg.GPIO.Chip)
	if err != nil {
		return fail(fmt.Errorf("init gpio: %w", err))
	}
	hw.driver = driver
	done = append(done, driver.Close)

	if cfg.Modbus.URL != "" {
		adc, err := modbusadc.Open(modbusadc.Config{
			URL:        cfg.Modbus.URL,
			UnitID:     cfg.Modbus.UnitID,
			Timeout:    cfg.Modbus.Timeout,
			Base:       cfg.Modbus.Base,
			Channels:   cfg.Modbus.Channels,
			Holding:    cfg.Modbus.Holding,
			OutputBase: cfg.Modbus.OutputBase,
			Outputs:    cfg.Modbus.Outputs,
		})
		if err != nil {
			return fail(fmt.Errorf("init modbus adc: %w", err))
		}
		hw.analog = adc
		hw.analogOut = adc
		done = append(done, adc.Close)
	}

	store, closeStore, err := openStore(cfg.Settings)
	if err != nil {
		return fail(fmt.Errorf("open settings: %w", err))
	}
	hw.store = store
	done = append(done, closeStore)

	if withMQTT && cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Config{
			Broker:     cfg.MQTT.Broker,
			Prefix:     cfg.MQTT.Prefix,
			ClientID:   cfg.MQTT.ClientID,
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			BufferSize: cfg.MQTT.BufferSize,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("init mqtt: %w", err))
		}
		hw.publisher = pub
		hw.conn = pub
		done = append(done, pub.Close)
	}

	if withRadio && cfg.WiFi.Enabled {
		radio, err := wifi.NewNMRadio(cfg.WiFi.Interface, logger)
		if err != nil {
			return fail(fmt.Errorf("init wifi: %w", err))
		}
		hw.radio = radio
		hw.restart = commandRestarter(cfg.WiFi.RebootCommand, logger)
	}
	return hw, done, nil
}

// commandRestarter runs argv to restart the host.
func commandRestarter(argv []string, logger *zap.Logger) wifi.Restarter {
	return func(reason string) {
		logger.Error("restarting host", zap.String("reason", reason), zap.Strings("command", argv))
		if len(argv) == 0 {
			return
		}
		if out, err := exec.Command(argv[0], argv[1:]...).CombinedOutput(); err != nil {
			logger.Error("restart command failed", zap.Error(err), zap.ByteString("output", out))
		}
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.Any("config", cfg.Redacted()))

	hw, done, err := openHardware(cfg, logger, true, true)
	if err != nil {
		return err
	}
	defer done.close(logger)

	var a *app
	if hw.restart != nil {
		restart := hw.restart
		hw.restart = func(reason string) {
			publishStatus(hw.publisher, a.status, "RESTART", reason, true, logger)
			restart(reason)
		}
	}

	a, err = newApp(cfg, hw, logger, time.Now)
	if err != nil {
		return err
	}
	if err := a.begin(); err != nil {
		return err
	}
	a.status.Refresh()
	publishStatus(hw.publisher, a.status, "STARTUP", "", true, logger)

	ls := newLoopSettings(a.settings)
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, a.status, ls, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
	}
	// Unblock pending writes before the server drains its handlers.
	defer ls.stop()

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("started", zap.Duration("tick", cfg.Tick), zap.Duration("heartbeat", cfg.MQTT.Heartbeat))
	return runLoop(a, hw.publisher, cfg.MQTT.Heartbeat, ticker.C, sigCh, ls.reqs)
}
