// Package notifications delivers operator alerts for provider health
// transitions and generation failures. Alerts are deduplicated so a
// flapping provider does not flood the topic.
package notifications

import (
	"context"
	"log/slog"
	"sync"
)

type NotificationType string

const (
	NotificationProviderDown     NotificationType = "provider_down"
	NotificationProviderUp       NotificationType = "provider_up"
	NotificationGenerationFailed NotificationType = "generation_failed"
)

type Notification struct {
	Type     NotificationType       `json:"type"`
	Provider string                 `json:"provider,omitempty"`
	Message  string                 `json:"message"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// LogNotifier writes notifications to the structured log. Used when no
// SNS topic is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, notification Notification) error {
	slog.Warn("notification",
		"type", string(notification.Type),
		"provider", notification.Provider,
		"message", notification.Message,
	)
	return nil
}

// Deduplicator suppresses repeated alerts for the same provider state.
// An alert fires once per transition; ClearAlert re-arms it.
type Deduplicator struct {
	mu        sync.Mutex
	lastAlert map[string]NotificationType
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{lastAlert: make(map[string]NotificationType)}
}

func (d *Deduplicator) ShouldAlert(provider string, typ NotificationType) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastAlert[provider] == typ {
		return false
	}
	d.lastAlert[provider] = typ
	return true
}

func (d *Deduplicator) ClearAlert(provider string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastAlert, provider)
}

// Last returns the most recent alert type recorded for a provider.
func (d *Deduplicator) Last(provider string) (NotificationType, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	typ, ok := d.lastAlert[provider]
	return typ, ok
}

// HealthReporter combines a notifier with deduplication for provider
// up/down transitions.
type HealthReporter struct {
	notifier Notifier
	dedup    *Deduplicator
}

func NewHealthReporter(notifier Notifier) *HealthReporter {
	return &HealthReporter{
		notifier: notifier,
		dedup:    NewDeduplicator(),
	}
}

// ReportFailure sends a provider_down alert the first time a provider
// fails; repeats are suppressed until the provider recovers.
func (r *HealthReporter) ReportFailure(ctx context.Context, provider, detail string) {
	if !r.dedup.ShouldAlert(provider, NotificationProviderDown) {
		return
	}
	err := r.notifier.Send(ctx, Notification{
		Type:     NotificationProviderDown,
		Provider: provider,
		Message:  detail,
	})
	if err != nil {
		slog.Warn("failed to send notification", "error", err, "provider", provider)
	}
}

// ReportSuccess sends a provider_up alert when a previously failing
// provider recovers. Success without a preceding failure is silent.
func (r *HealthReporter) ReportSuccess(ctx context.Context, provider string) {
	last, ok := r.dedup.Last(provider)
	if !ok || last != NotificationProviderDown {
		return
	}
	if !r.dedup.ShouldAlert(provider, NotificationProviderUp) {
		return
	}
	err := r.notifier.Send(ctx, Notification{
		Type:     NotificationProviderUp,
		Provider: provider,
		Message:  "provider recovered",
	})
	if err != nil {
		slog.Warn("failed to send notification", "error", err, "provider", provider)
	}
}
