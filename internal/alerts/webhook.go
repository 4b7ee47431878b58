package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// style is how a severity, or a resolution, is rendered by chat targets.
type style struct {
	label string
	color string // hex without '#'
}

var severityStyles = map[string]style{
	"critical": {label: "CRITICAL", color: "FF4F6A"},
	"warning":  {label: "WARNING", color: "FFAB40"},
	"info":     {label: "INFO", color: "00D4FF"},
}

var resolvedStyle = style{label: "RESOLVED", color: "2EB67D"}

func styleOf(a *Alert) style {
	if a.State == StateResolved {
		return resolvedStyle
	}
	if s, ok := severityStyles[a.Severity]; ok {
		return s
	}
	return severityStyles["info"]
}

// tankEvent is the JSON body sent to generic http targets.
type tankEvent struct {
	TankID     int64      `json:"tank_id"`
	Rule       string     `json:"rule"`
	Severity   string     `json:"severity"`
	State      string     `json:"state"`
	Value      float64    `json:"value"`
	Message    string     `json:"message"`
	AlertID    string     `json:"alert_id"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Fallback string       `json:"fallback"`
	Title    string       `json:"title"`
	Text     string       `json:"text"`
	Fields   []slackField `json:"fields"`
	Ts       int64        `json:"ts"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Facts         []teamsFact `json:"facts"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Title      string         `json:"title"`
	Sections   []teamsSection `json:"sections"`
}

// deliver sends a to every configured target. Failures are logged and do
// not reach the caller.
func (e *Engine) deliver(ctx context.Context, a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var body any
		switch wh.Type {
		case "slack":
			body = slackPayload(a)
		case "teams":
			body = teamsPayload(a)
		case "http":
			body = httpPayload(a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err := e.post(ctx, url, body); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"tank_id", a.TankID,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "tank_id", a.TankID, "state", a.State)
	}
}

func tankTitle(a *Alert) string {
	return fmt.Sprintf("Tank %d: %s %s", a.TankID, a.RuleName, a.State)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func slackPayload(a *Alert) slackMessage {
	st := styleOf(a)
	return slackMessage{Attachments: []slackAttachment{{
		Color:    "#" + st.color,
		Fallback: fmt.Sprintf("[%s] %s", st.label, a.Message),
		Title:    fmt.Sprintf("[%s] %s", st.label, tankTitle(a)),
		Text:     a.Message,
		Fields: []slackField{
			{Title: "tank_id", Value: strconv.FormatInt(a.TankID, 10), Short: true},
			{Title: "value", Value: formatValue(a.Value), Short: true},
			{Title: "rule", Value: a.RuleName, Short: true},
			{Title: "severity", Value: a.Severity, Short: true},
		},
		Ts: a.FiredAt.Unix(),
	}}}
}

func teamsPayload(a *Alert) teamsCard {
	st := styleOf(a)
	return teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: st.color,
		Summary:    tankTitle(a),
		Title:      fmt.Sprintf("[%s] %s", st.label, tankTitle(a)),
		Sections: []teamsSection{{
			ActivityTitle: a.Message,
			Facts: []teamsFact{
				{Name: "Tank", Value: strconv.FormatInt(a.TankID, 10)},
				{Name: "Rule", Value: a.RuleName},
				{Name: "Value", Value: formatValue(a.Value)},
				{Name: "State", Value: a.State},
				{Name: "Fired at", Value: a.FiredAt.UTC().Format(time.RFC3339)},
			},
		}},
	}
}

func httpPayload(a *Alert) tankEvent {
	return tankEvent{
		TankID:     a.TankID,
		Rule:       a.RuleName,
		Severity:   a.Severity,
		State:      a.State,
		Value:      a.Value,
		Message:    a.Message,
		AlertID:    a.ID,
		FiredAt:    a.FiredAt,
		ResolvedAt: a.ResolvedAt,
	}
}

func (e *Engine) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
