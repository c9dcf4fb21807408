package config

import "time"

// AuditConfig controls the audit log's in-memory buffering and flush
// behavior (§4.3 C3 Audit Log).
type AuditConfig struct {
	// FlushInterval is how often the buffer is flushed to the durable store
	// even if BufferSize hasn't been reached.
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`

	// BufferSize is how many entries accumulate before an immediate flush
	// is triggered.
	BufferSize int `yaml:"buffer_size,omitempty"`

	// HighWaterMark bounds the buffer; once exceeded the oldest entries are
	// dropped and a synthetic audit.drop event is recorded in their place.
	HighWaterMark int `yaml:"high_water_mark,omitempty"`

	// RingSize bounds the in-memory query ring independent of the durable
	// store, which callers query directly for anything older.
	RingSize int `yaml:"ring_size,omitempty"`

	// MaxFlushRetries bounds the exponential backoff retry loop on a failed
	// flush before the batch is dropped (counted as audit.drop events).
	MaxFlushRetries int `yaml:"max_flush_retries,omitempty"`
}

// DefaultAuditConfig returns built-in audit log defaults.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		FlushInterval:   5 * time.Second,
		BufferSize:      100,
		HighWaterMark:   10_000,
		RingSize:        5_000,
		MaxFlushRetries: 5,
	}
}
