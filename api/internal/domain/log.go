package domain

import "time"

// LogEvent is one persisted build log line.
type LogEvent struct {
	EventID      string
	DeploymentID string
	Message      string
	Timestamp    time.Time
}
