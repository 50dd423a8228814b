package alert

import "netguard/internal/model"

// Notifier delivers pipeline events to an outside channel
type Notifier interface {
	Name() string
	SendEvent(event model.Event) error
}
