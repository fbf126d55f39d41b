package alert

import (
	"flow-threat-detector/internal/model"

	"github.com/sirupsen/logrus"
)

// LogAlertNotifier sends alerts to local logs
type LogAlertNotifier struct {
	logger *logrus.Logger
}

// NewLogAlertNotifier creates a new log alert notifier
func NewLogAlertNotifier(logger *logrus.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{
		logger: logger,
	}
}

func (ln *LogAlertNotifier) Name() string {
	return "log"
}

// SendAlert implements Notifier interface - sends alert to logs
func (ln *LogAlertNotifier) SendAlert(alert model.Alert) error {
	ln.logger.Warnf("ALERT [%s] %s: %s (resource=%s confidence=%.1f%%)",
		alert.Severity, alert.AlertType, alert.Title, alert.ResourceID, alert.ConfidenceScore)
	return nil
}
