package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/open-sspm/geoalert/internal/alerting"
)

const (
	defaultTimeout   = 90 * time.Second
	maxErrorBodySize = 64 << 10
	adaptiveCardType = "application/vnd.microsoft.card.adaptive"
	adaptiveCardURL  = "http://adaptivecards.io/schemas/adaptive-card.json"
)

// TeamsOptions configures the Teams webhook notifier.
type TeamsOptions struct {
	WebhookURL     string
	AllowedCountry string
	ActionURL      string
	HTTPClient     *http.Client
}

// Teams posts adaptive cards to an incoming webhook.
type Teams struct {
	webhookURL     string
	allowedCountry string
	actionURL      string
	http           *http.Client
}

func NewTeams(opts TeamsOptions) (*Teams, error) {
	webhook := strings.TrimSpace(opts.WebhookURL)
	if webhook == "" {
		return nil, errors.New("teams webhook url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Teams{
		webhookURL:     webhook,
		allowedCountry: strings.ToUpper(strings.TrimSpace(opts.AllowedCountry)),
		actionURL:      strings.TrimSpace(opts.ActionURL),
		http:           httpClient,
	}, nil
}

// Notify posts one card. Any non-2xx status is returned as an error; the
// caller decides whether that matters.
func (t *Teams) Notify(ctx context.Context, alert alerting.Alert) error {
	body, err := json.Marshal(t.Message(alert))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "geoalert")

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &WebhookError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.Join(strings.Fields(string(snippet)), " ")}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// WebhookError is a non-2xx webhook response.
type WebhookError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *WebhookError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook error %s", e.Status)
	}
	return fmt.Sprintf("webhook error %s: %s", e.Status, e.Body)
}

type Message struct {
	Type        string       `json:"type"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	ContentType string `json:"contentType"`
	Content     Card   `json:"content"`
}

type Card struct {
	Type    string        `json:"type"`
	Version string        `json:"version"`
	Schema  string        `json:"$schema"`
	Summary string        `json:"summary"`
	Body    []CardElement `json:"body"`
	Actions []CardAction  `json:"actions,omitempty"`
}

type CardElement struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Weight string `json:"weight,omitempty"`
	Size   string `json:"size,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
	Facts  []Fact `json:"facts,omitempty"`
}

type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Title is the card headline, e.g. "Outside-US login detected".
func (t *Teams) Title() string {
	return "Outside-" + t.allowedCountry + " login detected"
}

// Message renders the webhook payload for alert.
func (t *Teams) Message(alert alerting.Alert) Message {
	facts := []Fact{
		{Title: "User:", Value: alert.Principal},
		{Title: "IP:", Value: alert.SourceIP},
		{Title: "City:", Value: alert.City},
	}
	if alert.Region != "" {
		facts = append(facts, Fact{Title: "Region:", Value: alert.Region})
	}
	facts = append(facts,
		Fact{Title: "Country:", Value: alert.CountryDisplay()},
		Fact{Title: "Time:", Value: alert.FormattedTime()},
	)

	card := Card{
		Type:    "AdaptiveCard",
		Version: "1.4",
		Schema:  adaptiveCardURL,
		Summary: t.Title(),
		Body: []CardElement{
			{Type: "TextBlock", Text: "\U0001F6A8 " + t.Title(), Weight: "Bolder", Size: "Large", Wrap: true},
			{Type: "FactSet", Facts: facts},
		},
	}
	if t.actionURL != "" {
		card.Actions = []CardAction{{Type: "Action.OpenUrl", Title: "View in Defender", URL: t.actionURL}}
	}
	return Message{
		Type:        "message",
		Attachments: []Attachment{{ContentType: adaptiveCardType, Content: card}},
	}
}
