package policy

import (
	"fmt"
	"time"

	"github.com/pithecene-io/kiln/log"
)

// Config selects and configures a policy by name.
type Config struct {
	// Name is strict, buffered, streaming or noop. Empty means strict.
	Name string

	MaxBufferRecords int
	MaxBufferBytes   int64
	FlushCount       int
	FlushInterval    time.Duration

	Logger *log.Logger
}

// New builds the named policy around sink. Zero limits take the buffered
// defaults; a streaming policy with no trigger flushes every 100 records.
func New(cfg Config, sink Sink) (Policy, error) {
	switch cfg.Name {
	case "", NameStrict:
		return NewStrictPolicy(sink), nil
	case NameBuffered:
		bc := DefaultBufferedConfig()
		if cfg.MaxBufferRecords > 0 {
			bc.MaxBufferRecords = cfg.MaxBufferRecords
		}
		if cfg.MaxBufferBytes > 0 {
			bc.MaxBufferBytes = cfg.MaxBufferBytes
		}
		bc.Logger = cfg.Logger
		return NewBufferedPolicy(sink, bc)
	case NameStreaming:
		sc := StreamingConfig{FlushCount: cfg.FlushCount, FlushInterval: cfg.FlushInterval, Logger: cfg.Logger}
		if sc.FlushCount <= 0 && sc.FlushInterval <= 0 {
			sc.FlushCount = 100
		}
		return NewStreamingPolicy(sink, sc)
	case NameNoop:
		return NewNoopPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry policy %q (want strict, buffered, streaming or noop)", cfg.Name)
	}
}
