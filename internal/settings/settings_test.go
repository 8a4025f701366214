package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRegistry(t *testing.T, store Store) *Registry {
	t.Helper()
	return NewRegistry(store, zap.NewNop())
}

func TestSlotKey(t *testing.T) {
	tests := []struct {
		prefix string
		slot   int
		suffix byte
		want   string
	}{
		{"IO", 0, 'P', "IO00P"},
		{"II", 7, 'U', "II07U"},
		{"AI", 42, 'D', "AI42D"},
		{"AL", 99, 'E', "AL99E"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := SlotKey(tt.prefix, tt.slot, tt.suffix)
			if got != tt.want {
				t.Errorf("SlotKey: got %q, want %q", got, tt.want)
			}
			if len(got) > MaxKeyLen {
				t.Errorf("key %q exceeds MaxKeyLen", got)
			}
		})
	}
}

func TestRegisterRejectsLongKey(t *testing.T) {
	r := newRegistry(t, NewMemoryStore())
	_, err := r.Bool("Alarm.boiler_temp.Enabled", "Enabled", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyTooLong))
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	r := newRegistry(t, NewMemoryStore())
	_, err := r.Int("IO00P", "Pin", 4)
	require.NoError(t, err)
	_, err = r.Int("IO00P", "Pin", 5)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
}

func TestDefaultAndStoredValues(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("II00P", "17"))
	require.NoError(t, store.Save("II00L", "garbage"))
	r := newRegistry(t, store)

	pin, err := r.Int("II00P", "Pin", 4)
	require.NoError(t, err)
	assert.Equal(t, 17, pin.Get(), "stored value wins over default")

	low, err := r.Bool("II00L", "Active low", true)
	require.NoError(t, err)
	assert.True(t, low.Get(), "unreadable stored value falls back to default")

	dead, err := r.Float("AI00D", "Deadband", 0.01)
	require.NoError(t, err)
	assert.Equal(t, 0.01, dead.Get())
}

func TestSetPersistsAndNotifies(t *testing.T) {
	store := NewMemoryStore()
	r := newRegistry(t, store)

	name, err := r.String("AI00U", "Unit", "V")
	require.NoError(t, err)

	var got []string
	name.OnChange(func(v string) { got = append(got, v) })

	require.NoError(t, name.Set("mV"))
	require.NoError(t, name.Set("mV"))
	assert.Equal(t, []string{"mV"}, got, "unchanged Set must not notify")

	raw, ok, err := store.Load("AI00U")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mV", raw)
}

func TestApplyParsesWithKeyCodec(t *testing.T) {
	r := newRegistry(t, NewMemoryStore())
	lo, err := r.Float("AL00L", "Min", 10)
	require.NoError(t, err)

	require.NoError(t, r.Apply("AL00L", "12.5"))
	assert.Equal(t, 12.5, lo.Get())

	assert.Error(t, r.Apply("AL00L", "twelve"))
	assert.True(t, errors.Is(r.Apply("NOPE", "1"), ErrUnknownKey))
}

func TestEntriesSorted(t *testing.T) {
	r := newRegistry(t, NewMemoryStore())
	_, _ = r.Int("IO01P", "Relay 2 pin", 5)
	_, _ = r.Int("IO00P", "Relay 1 pin", 4)
	_, _ = r.Bool("AL00E", "Enabled", true)

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "AL00E", entries[0].Key)
	assert.Equal(t, "IO00P", entries[1].Key)
	assert.Equal(t, "4", entries[1].Value)
	assert.Equal(t, "IO01P", entries[2].Key)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	r := newRegistry(t, fs)
	pin, err := r.Int("IO00P", "Pin", 4)
	require.NoError(t, err)
	require.NoError(t, pin.Set(21))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	raw, ok, err := reopened.Load("IO00P")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "21", raw)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, "settings.yaml", entries[0].Name())
}

func TestFileStoreSaveFailureKeepsOldValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.yaml")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.Error(t, fs.Save("IO00P", "21"))

	_, ok, err := fs.Load("IO00P")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "")
	t.Cleanup(func() { store.Close() })

	_, ok, err := store.Load("AI00E")
	require.NoError(t, err)
	assert.False(t, ok)

	r := newRegistry(t, store)
	ev, err := r.Int("AI00E", "Min event ms", 10000)
	require.NoError(t, err)
	require.NoError(t, ev.Set(0))

	assert.Equal(t, "0", mr.HGet(DefaultRedisHash, "AI00E"))
}
