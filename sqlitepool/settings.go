package sqlitepool

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default pool settings.
const (
	DefaultReadPoolCapacity   = 200
	DefaultReadEvictionChunk  = 20
	DefaultReadCreateAttempts = 3

	DefaultWritePoolCapacity = 4
	DefaultWriteLiveCeiling  = 2

	DefaultWriteAdmissionIntervalMillis = 50
	DefaultWriteAdmissionMaxAttempts    = 40

	DefaultDebounceDelayMillis    = 100
	DefaultDebounceFallbackMillis = 3000

	DefaultBusyTimeoutMillis = 5000
	DefaultSubscriberBuffer  = 16
)

// Settings holds the process-wide configuration knobs for both pools.
//
// All interval knobs are plain integer milliseconds so the struct maps
// one-to-one onto a YAML file; the accessor methods convert to
// time.Duration. Zero values are replaced by the defaults through
// Normalized, so a partially populated Settings (or YAML file) is valid.
type Settings struct {
	// ReadPoolCapacity is the hard capacity of the read pool; reaching it
	// triggers eviction of the oldest ReadEvictionChunk entries.
	ReadPoolCapacity  int `yaml:"read_pool_capacity"`
	ReadEvictionChunk int `yaml:"read_eviction_chunk"`

	// ReadCreateAttempts is the retry budget for creating a read handle.
	ReadCreateAttempts int `yaml:"read_create_attempts"`

	// WritePoolCapacity is the hard capacity of the write pool before
	// closed or errored entries are evicted.
	WritePoolCapacity int `yaml:"write_pool_capacity"`

	// WriteLiveCeiling bounds simultaneously open-or-transacting,
	// non-errored write handles. The ceiling is advisory: admission stalls
	// in a bounded poll loop and proceeds once the poll budget expires.
	WriteLiveCeiling int `yaml:"write_live_ceiling"`

	WriteAdmissionIntervalMillis int `yaml:"write_admission_interval_ms"`
	WriteAdmissionMaxAttempts    int `yaml:"write_admission_max_attempts"`

	// DebounceDelayMillis is the quiet period after the last raw change
	// notification before a flush; DebounceFallbackMillis bounds how long a
	// sustained notification stream can defer a flush.
	DebounceDelayMillis    int `yaml:"debounce_delay_ms"`
	DebounceFallbackMillis int `yaml:"debounce_fallback_ms"`

	// BusyTimeoutMillis is passed to the engine as the busy-timeout pragma.
	BusyTimeoutMillis int `yaml:"busy_timeout_ms"`

	// SubscriberBuffer is the channel buffer per change-event subscriber;
	// batches for a subscriber with a full buffer are dropped.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// DefaultSettings returns the settings with every knob at its default.
func DefaultSettings() Settings {
	return Settings{}.Normalized()
}

// LoadSettings reads settings from a YAML file, filling absent knobs with
// their defaults.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied configuration
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parsing settings file: %w", err)
	}

	return settings.Normalized(), nil
}

// Normalized returns a copy with every zero or negative knob replaced by
// its default.
func (s Settings) Normalized() Settings {
	normalizeInt(&s.ReadPoolCapacity, DefaultReadPoolCapacity)
	normalizeInt(&s.ReadEvictionChunk, DefaultReadEvictionChunk)
	normalizeInt(&s.ReadCreateAttempts, DefaultReadCreateAttempts)
	normalizeInt(&s.WritePoolCapacity, DefaultWritePoolCapacity)
	normalizeInt(&s.WriteLiveCeiling, DefaultWriteLiveCeiling)
	normalizeInt(&s.WriteAdmissionIntervalMillis, DefaultWriteAdmissionIntervalMillis)
	normalizeInt(&s.WriteAdmissionMaxAttempts, DefaultWriteAdmissionMaxAttempts)
	normalizeInt(&s.DebounceDelayMillis, DefaultDebounceDelayMillis)
	normalizeInt(&s.DebounceFallbackMillis, DefaultDebounceFallbackMillis)
	normalizeInt(&s.BusyTimeoutMillis, DefaultBusyTimeoutMillis)
	normalizeInt(&s.SubscriberBuffer, DefaultSubscriberBuffer)

	if s.ReadEvictionChunk > s.ReadPoolCapacity {
		s.ReadEvictionChunk = s.ReadPoolCapacity
	}

	return s
}

// WriteAdmissionInterval returns the writer-admission poll interval.
func (s Settings) WriteAdmissionInterval() time.Duration {
	return time.Duration(s.WriteAdmissionIntervalMillis) * time.Millisecond
}

// DebounceDelay returns the debounce quiet period.
func (s Settings) DebounceDelay() time.Duration {
	return time.Duration(s.DebounceDelayMillis) * time.Millisecond
}

// DebounceFallback returns the periodic fallback flush interval.
func (s Settings) DebounceFallback() time.Duration {
	return time.Duration(s.DebounceFallbackMillis) * time.Millisecond
}

// BusyTimeout returns the engine busy-timeout.
func (s Settings) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutMillis) * time.Millisecond
}

func normalizeInt(field *int, fallback int) {
	if *field <= 0 {
		*field = fallback
	}
}
