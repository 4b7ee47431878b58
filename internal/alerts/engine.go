package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aquariumadventures/aquarium/internal/config"
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	TankID     int64      `json:"tank_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Subject is one tank's result as seen by the rules. Values is keyed by the
// Field constants; a missing key is a null.
type Subject struct {
	TankID int64
	Values map[string]float64
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against per-tank results and delivers webhook
// notifications when rules fire or resolve. State is kept across Evaluate
// calls so a long-running watcher deduplicates and resolves alerts between
// pipeline runs.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:tankID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the client used for webhook delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine from the alert configuration. An Engine with no
// rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig, opts ...Option) (*Engine, error) {
	e := &Engine{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	for _, r := range cfg.Rules {
		cond, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if r.Cooldown <= 0 {
			r.Cooldown = config.DefaultAlertCooldown
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: cond})
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate tests every rule against every subject and returns the alerts that
// fired or resolved, in rule then tank order. Pass the result to Notify to
// deliver webhooks.
//
// A rule that was firing for a tank absent from subjects is left active.
func (e *Engine) Evaluate(subjects []Subject) []Alert {
	if len(e.rules) == 0 {
		return nil
	}
	sorted := make([]Subject, len(subjects))
	copy(sorted, subjects)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].TankID < sorted[b].TankID })

	now := e.now()
	var events []Alert

	e.mu.Lock()
	for _, r := range e.rules {
		for _, s := range sorted {
			key := r.Name + ":" + strconv.FormatInt(s.TankID, 10)
			fires, value := r.cond.eval(s.Values)

			if fires {
				if last, ok := e.lastFire[key]; ok && now.Sub(last) <= r.Cooldown {
					continue
				}
				a := &Alert{
					ID:       fmt.Sprintf("%s:%d:%d", r.Name, s.TankID, now.UnixNano()),
					RuleName: r.Name,
					TankID:   s.TankID,
					Severity: r.Severity,
					Value:    value,
					Message: fmt.Sprintf("[%s] %s fired on tank %d: %s (value %.2f)",
						r.Severity, r.Name, s.TankID, r.cond, value),
					FiredAt: now,
					State:   StateFiring,
				}
				e.active[key] = a
				e.lastFire[key] = now
				events = append(events, *a)
				continue
			}

			if a, ok := e.active[key]; ok {
				resolved := now
				a.State = StateResolved
				a.ResolvedAt = &resolved
				a.Message = fmt.Sprintf("[%s] %s resolved on tank %d", a.Severity, r.Name, s.TankID)
				delete(e.active, key)
				events = append(events, *a)
			}
		}
	}
	e.mu.Unlock()

	for i := range events {
		a := &events[i]
		if a.State == StateFiring {
			slog.Warn("alerts: alert fired",
				"rule", a.RuleName,
				"tank_id", a.TankID,
				"value", a.Value,
				"severity", a.Severity,
			)
		} else {
			slog.Info("alerts: alert resolved", "rule", a.RuleName, "tank_id", a.TankID)
		}
	}
	return events
}

// Notify delivers every alert to the configured webhooks. Delivery failures
// are logged and never returned.
func (e *Engine) Notify(ctx context.Context, alerts []Alert) {
	for i := range alerts {
		e.deliver(ctx, &alerts[i])
	}
}

// Active returns copies of all currently firing alerts sorted by rule name
// and tank id.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RuleName != out[j].RuleName {
			return out[i].RuleName < out[j].RuleName
		}
		return out[i].TankID < out[j].TankID
	})
	return out
}
