package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/aquariumadventures/aquarium/internal/config"
)

// ErrPermanent marks a sink error that retrying cannot fix, such as a
// rejected payload or bad credentials. Sinks wrap it; the Run discards the
// entry instead of retrying.
var ErrPermanent = errors.New("tracking: permanent sink error")

// Sink is a tracking destination.
type Sink interface {
	// Write delivers one entry. It must be safe to call again with the same
	// entry after a transient error.
	Write(ctx context.Context, e Entry) error
	Close() error
}

// NewSink builds the sink described by cfg. Several sinks are combined with
// a MultiSink; none yields a MemorySink.
func NewSink(cfg config.TrackingConfig) (Sink, error) {
	if len(cfg.Sinks) == 0 {
		return NewMemorySink(), nil
	}
	sinks := make([]Sink, 0, len(cfg.Sinks))
	for i, sc := range cfg.Sinks {
		s, err := newSink(sc)
		if err != nil {
			for _, built := range sinks {
				_ = built.Close()
			}
			return nil, fmt.Errorf("tracking: sinks[%d] %s: %w", i, sc.Type, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}

func newSink(sc config.SinkConfig) (Sink, error) {
	switch sc.Type {
	case config.SinkMemory:
		return NewMemorySink(), nil
	case config.SinkInflux:
		return NewInfluxSink(sc.URL, sc.Token(), sc.Org, sc.Bucket), nil
	case config.SinkTextfile:
		return NewTextfileSink(sc.Path), nil
	case config.SinkStore:
		return OpenStore(sc.Path, sc.TTL)
	default:
		return nil, fmt.Errorf("unknown sink type %q", sc.Type)
	}
}

// MemorySink keeps every entry in memory.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Write appends e.
func (m *MemorySink) Write(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Close marks the sink closed. Entries stay readable.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Entries returns a copy of the entries written so far.
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Closed reports whether Close was called.
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MultiSink writes every entry to all of its sinks.
type MultiSink struct {
	sinks []Sink

	mu      sync.Mutex
	pending map[string][]bool // entry key -> per-sink delivered flags
}

// NewMultiSink fans entries out to sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, pending: make(map[string][]bool)}
}

// Write delivers e to each sink that has not accepted it yet. The returned
// error is permanent only when every failing sink failed permanently.
func (m *MultiSink) Write(ctx context.Context, e Entry) error {
	key := e.RunID + "/" + strconv.FormatInt(e.Step, 10)

	m.mu.Lock()
	delivered, ok := m.pending[key]
	if !ok {
		delivered = make([]bool, len(m.sinks))
	}
	m.mu.Unlock()

	var errs []error
	permanent := true
	for i, s := range m.sinks {
		if delivered[i] {
			continue
		}
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
			if !errors.Is(err, ErrPermanent) {
				permanent = false
			}
			continue
		}
		delivered[i] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(errs) == 0 || permanent {
		delete(m.pending, key)
	} else {
		m.pending[key] = delivered
	}

	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if permanent {
		return err
	}
	// Hide ErrPermanent from some sinks so the Run retries the others.
	return fmt.Errorf("tracking: %d of %d sinks failed: %s", len(errs), len(m.sinks), err)
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
