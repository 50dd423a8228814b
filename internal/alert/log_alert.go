package alert

import (
	"netguard/internal/model"

	"github.com/sirupsen/logrus"
)

// LogAlertNotifier writes events to the local log
type LogAlertNotifier struct {
	logger *logrus.Logger
}

func NewLogAlertNotifier(logger *logrus.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{
		logger: logger,
	}
}

func (ln *LogAlertNotifier) Name() string { return "log" }

// SendEvent implements Notifier
func (ln *LogAlertNotifier) SendEvent(event model.Event) error {
	entry := ln.logger.WithFields(logrus.Fields{
		"event":  event.Type,
		"source": event.Source,
		"id":     event.ID,
	})
	if event.Error != "" {
		entry = entry.WithField("error", event.Error)
	}

	switch event.Type {
	case model.EventAnomaly:
		if a := event.Anomaly; a != nil {
			entry.Warnf("ALERT [%s] %s from %s confidence=%.2f response=%s",
				a.Label, event.Type, a.Packet.Source, a.Confidence, a.Response)
			return nil
		}
		entry.Warn(event.Message)
	case model.EventFatal, model.EventConnectionExhausted:
		entry.Error(event.Message)
	case model.EventError, model.EventWarning:
		entry.Debug(event.Message)
	default:
		entry.Info(event.Message)
	}
	return nil
}
