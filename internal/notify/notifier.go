package notify

import (
	"context"

	"github.com/open-sspm/geoalert/internal/alerting"
)

// Notifier delivers one alert to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, alert alerting.Alert) error
}

// Nop drops every alert. Tests use it.
type Nop struct{}

func (Nop) Notify(context.Context, alerting.Alert) error { return nil }
