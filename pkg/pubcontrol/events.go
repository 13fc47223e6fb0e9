package pubcontrol

import "time"

// Event types published on the bus configured with WithEventBus.
const (
	EventBatchSent   = "pubcontrol.batch.sent"
	EventBatchFailed = "pubcontrol.batch.failed"
)

// BatchEvent describes one transport call made by a worker.
// Keep it small; subscribers may persist it.
type BatchEvent struct {
	URI      string        `json:"uri"`
	Size     int           `json:"size"`
	Channels []string      `json:"channels"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}
