package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	writeTimeout      = 10 * time.Second
)

// Entry is one logged metric dictionary.
type Entry struct {
	RunID   string             `json:"run_id"`
	Project string             `json:"project"`
	Step    int64              `json:"step"`
	Time    time.Time          `json:"time"`
	Tags    map[string]string  `json:"tags,omitempty"`
	Values  map[string]float64 `json:"values"`
}

// Run buffers entries and delivers them to a Sink.
// Log is non-blocking; when the buffer is full the oldest entry is evicted.
type Run struct {
	id      string
	project string
	sink    Sink
	buf     chan Entry

	mu       sync.Mutex // guards finished and serialises enqueueing
	finished bool
	step     atomic.Int64
	lost     atomic.Int64

	backoffInitial time.Duration
	backoffMax     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	finErr error
}

// Option configures a Run.
type Option func(*Run)

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(r *Run) { r.id = id }
}

// WithBackoff overrides the retry backoff bounds.
func WithBackoff(initial, maxWait time.Duration) Option {
	return func(r *Run) {
		r.backoffInitial = initial
		r.backoffMax = maxWait
	}
}

// Start begins a run for project and starts draining into sink. The drain
// stops when ctx is cancelled or Finish is called. bufferSize <= 0 selects
// 1000.
func Start(ctx context.Context, project string, sink Sink, bufferSize int, opts ...Option) *Run {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	r := &Run{
		id:             uuid.NewString(),
		project:        project,
		sink:           sink,
		buf:            make(chan Entry, bufferSize),
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	go r.drain(ctx)

	slog.Info("tracking: run started", "project", project, "run_id", r.id)
	return r
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Project returns the project name.
func (r *Run) Project() string { return r.project }

// Log enqueues one metric dictionary. It never blocks. Maps are copied, so
// callers may reuse them. Entries logged after Finish are dropped.
func (r *Run) Log(tags map[string]string, values map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		slog.Warn("tracking: log after finish dropped", "run_id", r.id)
		return
	}
	e := Entry{
		RunID:   r.id,
		Project: r.project,
		Step:    r.step.Add(1),
		Time:    time.Now().UTC(),
		Tags:    copyTags(tags),
		Values:  copyValues(values),
	}
	select {
	case r.buf <- e:
	default:
		select {
		case old := <-r.buf:
			r.lost.Add(1)
			slog.Warn("tracking: buffer full, evicted oldest entry",
				"run_id", r.id, "step", old.Step, "buffer_cap", cap(r.buf))
		default:
		}
		r.buf <- e
	}
}

// drain delivers buffered entries until ctx is cancelled.
func (r *Run) drain(ctx context.Context) {
	defer close(r.done)
	bo := r.newBackoff()

	for {
		select {
		case <-ctx.Done():
			return

		case e := <-r.buf:
			err := r.write(ctx, e)
			if err == nil {
				bo.reset()
				continue
			}
			if errors.Is(err, ErrPermanent) {
				r.lost.Add(1)
				slog.Error("tracking: permanent sink error, discarding entry",
					"run_id", r.id, "step", e.Step, "err", err)
				continue
			}

			r.requeue(e)
			wait := bo.next()
			slog.Warn("tracking: sink write failed, will retry",
				"run_id", r.id, "step", e.Step, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func (r *Run) write(ctx context.Context, e Entry) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return r.sink.Write(wctx, e)
}

// requeue puts e back if there is room. A full buffer means newer entries
// arrived meanwhile and e is given up.
func (r *Run) requeue(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case r.buf <- e:
	default:
		r.lost.Add(1)
		slog.Warn("tracking: buffer full, dropped retried entry", "run_id", r.id, "step", e.Step)
	}
}

// Finish stops the drain, makes one delivery attempt for every entry still
// buffered and closes the sink. It returns an error when any entry was lost
// during the run. Calling Finish again returns the first result.
func (r *Run) Finish(ctx context.Context) error {
	r.once.Do(func() {
		// Once finished is set no Log can enqueue, so the flush below sees
		// every accepted entry.
		r.mu.Lock()
		r.finished = true
		r.mu.Unlock()
		r.cancel()
		<-r.done

		flushed := 0
	flush:
		for {
			select {
			case e := <-r.buf:
				if err := r.write(ctx, e); err != nil {
					r.lost.Add(1)
					slog.Error("tracking: final delivery failed", "run_id", r.id, "step", e.Step, "err", err)
					continue
				}
				flushed++
			default:
				break flush
			}
		}

		var errs []error
		if n := r.lost.Load(); n > 0 {
			errs = append(errs, fmt.Errorf("tracking: run %s: %d of %d entries not delivered", r.id, n, r.step.Load()))
		}
		if err := r.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tracking: close sink: %w", err))
		}
		r.finErr = errors.Join(errs...)

		slog.Info("tracking: run finished", "run_id", r.id, "steps", r.step.Load(),
			"flushed", flushed, "lost", r.lost.Load())
	})
	return r.finErr
}

func copyTags(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyValues(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func (r *Run) newBackoff() *backoff {
	return &backoff{initial: r.backoffInitial, max: r.backoffMax, current: r.backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
