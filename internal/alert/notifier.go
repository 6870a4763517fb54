// Package alert evaluates threshold rules against streaming indicator
// output and delivers alerts through pluggable notifiers.
package alert

import (
	"context"
	"log"
	"time"
)

// AlertLevel indicates alert severity.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a single alert event raised by the rule engine.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Rule    string     `json:"rule,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Stage   string     `json:"stage,omitempty"`
	Value   string     `json:"value,omitempty"`
	TS      time.Time  `json:"ts"`
}

// Notifier delivers alerts to some destination (log, Telegram, webhook).
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log. Always available,
// useful as a fallback when no external notifier is configured.
type LogNotifier struct{}

func (l *LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
