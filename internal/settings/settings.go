// Package settings provides typed, persisted live settings.
//
// Values are cached in memory and read on every scheduler tick by the
// managers; writes go through to a Store. Storage keys are limited to
// MaxKeyLen characters, so callers derive short stable keys with SlotKey.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// MaxKeyLen is the longest key a Store accepts (NVS-class flash limit).
const MaxKeyLen = 15

var (
	// ErrKeyTooLong is returned when registering a key longer than MaxKeyLen.
	ErrKeyTooLong = errors.New("settings: key exceeds storage limit")
	// ErrDuplicateKey is returned when a key is registered twice.
	ErrDuplicateKey = errors.New("settings: key already registered")
	// ErrUnknownKey is returned by Apply for keys nobody registered.
	ErrUnknownKey = errors.New("settings: unknown key")
)

// Store persists raw string values by key.
type Store interface {
	// Load returns the stored value and whether it was present.
	Load(key string) (string, bool, error)
	Save(key, value string) error
}

// Setting is a typed live value backed by a Store.
type Setting[T any] interface {
	Key() string
	Get() T
	Set(v T) error
	// OnChange registers a listener called after every successful Set that
	// changes the value. Listeners run on the caller's goroutine.
	OnChange(fn func(T))
}

// Entry describes one registered setting for listings.
type Entry struct {
	Key   string
	Name  string
	Value string
}

// SlotKey derives a short storage key: prefix, two-digit slot, suffix.
// SlotKey("II", 3, 'P') == "II03P".
func SlotKey(prefix string, slot int, suffix byte) string {
	return fmt.Sprintf("%s%02d%c", prefix, slot, suffix)
}

type codec[T comparable] struct {
	encode func(T) string
	decode func(string) (T, error)
}

var (
	boolCodec = codec[bool]{
		encode: strconv.FormatBool,
		decode: strconv.ParseBool,
	}
	intCodec = codec[int]{
		encode: strconv.Itoa,
		decode: strconv.Atoi,
	}
	floatCodec = codec[float64]{
		encode: func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) },
		decode: func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
	}
	stringCodec = codec[string]{
		encode: func(v string) string { return v },
		decode: func(s string) (string, error) { return s, nil },
	}
)

// registered is the type-erased view the Registry keeps of each setting.
type registered interface {
	name() string
	String() string
	apply(raw string) error
}

type value[T comparable] struct {
	mu        sync.Mutex
	key       string
	label     string
	cur       T
	store     Store
	codec     codec[T]
	listeners []func(T)
}

func (v *value[T]) Key() string  { return v.key }
func (v *value[T]) name() string { return v.label }

func (v *value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

func (v *value[T]) Set(nv T) error {
	v.mu.Lock()
	if nv == v.cur {
		v.mu.Unlock()
		return nil
	}
	if err := v.store.Save(v.key, v.codec.encode(nv)); err != nil {
		v.mu.Unlock()
		return fmt.Errorf("save %s: %w", v.key, err)
	}
	v.cur = nv
	listeners := append([]func(T){}, v.listeners...)
	v.mu.Unlock()

	for _, fn := range listeners {
		fn(nv)
	}
	return nil
}

func (v *value[T]) OnChange(fn func(T)) {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

func (v *value[T]) String() string {
	return v.codec.encode(v.Get())
}

func (v *value[T]) apply(raw string) error {
	nv, err := v.codec.decode(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", v.key, err)
	}
	return v.Set(nv)
}

// Registry creates settings and tracks every key handed out.
type Registry struct {
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]registered
}

// NewRegistry creates a Registry persisting to store.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		logger:  logger.Named("settings"),
		entries: make(map[string]registered),
	}
}

func register[T comparable](r *Registry, key, label string, def T, c codec[T]) (Setting[T], error) {
	if len(key) > MaxKeyLen {
		return nil, fmt.Errorf("%w: %q (%d > %d)", ErrKeyTooLong, key, len(key), MaxKeyLen)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}

	v := &value[T]{key: key, label: label, cur: def, store: r.store, codec: c}
	raw, ok, err := r.store.Load(key)
	switch {
	case err != nil:
		r.logger.Warn("load failed, using default", zap.String("key", key), zap.Error(err))
	case ok:
		decoded, err := c.decode(raw)
		if err != nil {
			r.logger.Warn("stored value unreadable, using default",
				zap.String("key", key), zap.String("raw", raw), zap.Error(err))
		} else {
			v.cur = decoded
		}
	}

	r.entries[key] = v
	return v, nil
}

// Bool registers a boolean setting.
func (r *Registry) Bool(key, label string, def bool) (Setting[bool], error) {
	return register(r, key, label, def, boolCodec)
}

// Int registers an integer setting.
func (r *Registry) Int(key, label string, def int) (Setting[int], error) {
	return register(r, key, label, def, intCodec)
}

// Float registers a float setting.
func (r *Registry) Float(key, label string, def float64) (Setting[float64], error) {
	return register(r, key, label, def, floatCodec)
}

// String registers a string setting.
func (r *Registry) String(key, label string, def string) (Setting[string], error) {
	return register(r, key, label, def, stringCodec)
}

// Apply parses raw with the key's codec and sets it.
func (r *Registry) Apply(key, raw string) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return e.apply(raw)
}

// Entries lists every registered setting sorted by key.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for k, e := range r.entries {
		out = append(out, Entry{Key: k, Name: e.name(), Value: e.String()})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
