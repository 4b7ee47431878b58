package alerts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aquariumadventures/aquarium/internal/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newEngine(t *testing.T, cfg config.AlertsConfig, clock *fakeClock) *Engine {
	t.Helper()
	e, err := New(cfg, WithClock(clock.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func stressRule() config.AlertsConfig {
	return config.AlertsConfig{Rules: []config.AlertRule{{
		Name:      "high-stress",
		Condition: "stress_score > 5",
		Severity:  "critical",
		Cooldown:  time.Minute,
	}}}
}

func subject(tank int64, stress float64) Subject {
	return Subject{TankID: tank, Values: map[string]float64{FieldStressScore: stress}}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"stress_score > 5", false},
		{"valid_readings <= 10", false},
		{"dropped_readings >= 1", false},
		{"readings == 0", false},
		{"stress_score>5", true},
		{"humidity > 5", true},
		{"stress_score ~ 5", true},
		{"stress_score > high", true},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			_, err := parseCondition(tc.expr)
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCondition_Eval(t *testing.T) {
	c, err := parseCondition("valid_readings < 10")
	if err != nil {
		t.Fatal(err)
	}
	if fires, v := c.eval(map[string]float64{FieldValidReadings: 3}); !fires || v != 3 {
		t.Errorf("eval(3) = %v, %v; want true, 3", fires, v)
	}
	if fires, _ := c.eval(map[string]float64{FieldValidReadings: 10}); fires {
		t.Error("eval(10) fired")
	}
	if fires, _ := c.eval(map[string]float64{}); fires {
		t.Error("missing value fired")
	}
}

func TestNew_RejectsBadCondition(t *testing.T) {
	_, err := New(config.AlertsConfig{Rules: []config.AlertRule{{Name: "x", Condition: "ph > 8"}}})
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestEvaluate_FireCooldownResolve(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := newEngine(t, stressRule(), clock)

	got := e.Evaluate([]Subject{subject(2, 6.5), subject(1, 1.0)})
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	a := got[0]
	if a.State != StateFiring || a.TankID != 2 || a.Value != 6.5 || a.Severity != "critical" {
		t.Errorf("alert = %+v", a)
	}
	if !strings.Contains(a.Message, "tank 2") || !strings.Contains(a.Message, "stress_score > 5") {
		t.Errorf("message = %q", a.Message)
	}

	// Still firing inside the cooldown: no new event.
	clock.advance(30 * time.Second)
	if got := e.Evaluate([]Subject{subject(2, 7.0)}); len(got) != 0 {
		t.Errorf("events during cooldown = %v", got)
	}
	if active := e.Active(); len(active) != 1 || active[0].TankID != 2 {
		t.Errorf("active = %v", active)
	}

	// Past the cooldown a still-high score fires again.
	clock.advance(time.Minute)
	if got := e.Evaluate([]Subject{subject(2, 7.0)}); len(got) != 1 || got[0].State != StateFiring {
		t.Errorf("events after cooldown = %v", got)
	}

	clock.advance(time.Second)
	got = e.Evaluate([]Subject{subject(2, 2.0)})
	if len(got) != 1 || got[0].State != StateResolved || got[0].ResolvedAt == nil {
		t.Fatalf("resolve events = %+v", got)
	}
	if len(e.Active()) != 0 {
		t.Errorf("active after resolve = %v", e.Active())
	}
}

func TestEvaluate_NullScoreNeverFires(t *testing.T) {
	e := newEngine(t, stressRule(), &fakeClock{t: time.Now()})
	got := e.Evaluate([]Subject{{TankID: 3, Values: map[string]float64{FieldReadings: 2}}})
	if len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
}

func TestEvaluate_NoRules(t *testing.T) {
	e := newEngine(t, config.AlertsConfig{}, &fakeClock{t: time.Now()})
	if got := e.Evaluate([]Subject{subject(1, 100)}); got != nil {
		t.Errorf("events = %v, want nil", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	e := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{{Name: "r", Condition: "stress_score > 1"}}}, &fakeClock{})
	if e.rules[0].Severity != "warning" {
		t.Errorf("severity = %q, want warning", e.rules[0].Severity)
	}
	if e.rules[0].Cooldown != config.DefaultAlertCooldown {
		t.Errorf("cooldown = %v, want %v", e.rules[0].Cooldown, config.DefaultAlertCooldown)
	}
}

type capture struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
	status int
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(data, &body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		if c.status != 0 {
			w.WriteHeader(c.status)
		}
	}
}

func TestNotify_Webhooks(t *testing.T) {
	slack, teams, generic := &capture{}, &capture{}, &capture{status: http.StatusInternalServerError}
	for _, c := range []struct {
		env  string
		hook *capture
	}{{"SLACK_URL", slack}, {"TEAMS_URL", teams}, {"HOOK_URL", generic}} {
		srv := httptest.NewServer(c.hook.handler())
		t.Cleanup(srv.Close)
		t.Setenv(c.env, srv.URL)
	}

	cfg := stressRule()
	cfg.Webhooks = []config.WebhookConfig{
		{Type: "slack", URLEnv: "SLACK_URL"},
		{Type: "teams", URLEnv: "TEAMS_URL"},
		{Type: "http", URLEnv: "HOOK_URL"},
		{Type: "slack", URLEnv: "UNSET_URL"},
	}
	e := newEngine(t, cfg, &fakeClock{t: time.Now()})

	alerts := e.Evaluate([]Subject{subject(4, 9)})
	e.Notify(context.Background(), alerts)

	if len(slack.bodies) != 1 {
		t.Fatalf("slack bodies = %v", slack.bodies)
	}
	att := slack.bodies[0]["attachments"].([]interface{})[0].(map[string]interface{})
	if att["color"] != "#FF4F6A" || !strings.HasPrefix(att["title"].(string), "[CRITICAL] Tank 4:") {
		t.Errorf("slack attachment = %v", att)
	}
	fields := map[string]string{}
	for _, f := range att["fields"].([]interface{}) {
		m := f.(map[string]interface{})
		fields[m["title"].(string)] = m["value"].(string)
	}
	if fields["tank_id"] != "4" || fields["value"] != "9" || fields["rule"] != "high-stress" {
		t.Errorf("slack fields = %v", fields)
	}

	if len(teams.bodies) != 1 || teams.bodies[0]["@type"] != "MessageCard" || teams.bodies[0]["themeColor"] != "FF4F6A" {
		t.Fatalf("teams bodies = %v", teams.bodies)
	}
	section := teams.bodies[0]["sections"].([]interface{})[0].(map[string]interface{})
	facts := map[string]string{}
	for _, f := range section["facts"].([]interface{}) {
		m := f.(map[string]interface{})
		facts[m["name"].(string)] = m["value"].(string)
	}
	if facts["Tank"] != "4" || facts["Value"] != "9" || facts["State"] != StateFiring {
		t.Errorf("teams facts = %v", facts)
	}

	// A failing endpoint is logged, not fatal.
	if len(generic.bodies) != 1 {
		t.Fatalf("http bodies = %v", generic.bodies)
	}
	ev := generic.bodies[0]
	if ev["tank_id"] != float64(4) || ev["rule"] != "high-stress" || ev["value"] != float64(9) || ev["state"] != StateFiring {
		t.Errorf("http event = %v", ev)
	}
}

func TestSlackPayload_Resolved(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Alert{RuleName: "high-stress", TankID: 2, Severity: "critical", State: StateResolved, Value: 1.5, FiredAt: at, ResolvedAt: &at}

	att := slackPayload(a).Attachments[0]
	if att.Color != "#2EB67D" || att.Title != "[RESOLVED] Tank 2: high-stress resolved" {
		t.Errorf("attachment = %+v", att)
	}
	if teamsPayload(a).ThemeColor != "2EB67D" {
		t.Error("resolved teams card not green")
	}
	if ev := httpPayload(a); ev.ResolvedAt == nil || ev.TankID != 2 {
		t.Errorf("event = %+v", ev)
	}
}

func TestStyleOf_UnknownSeverity(t *testing.T) {
	if got := styleOf(&Alert{Severity: "page-me", State: StateFiring}); got.label != "INFO" {
		t.Errorf("label = %s, want INFO", got.label)
	}
}
