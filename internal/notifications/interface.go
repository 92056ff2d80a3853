// Package notifications delivers operator alerts for risk posture
// changes and venue incidents. It is not a trade journal; fills and
// rejections stay in the account logs.
package notifications

// Level classifies an alert for formatting and routing.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level Level, message string) error
}

// NopNotifier discards every alert. Used when no notifier is
// configured.
type NopNotifier struct{}

func (NopNotifier) SendAlert(Level, string) error { return nil }
