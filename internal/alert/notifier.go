package alert

import "flow-threat-detector/internal/model"

// Notifier interface for alert notification
type Notifier interface {
	Name() string
	SendAlert(alert model.Alert) error
}
