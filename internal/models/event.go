package models

import "time"

// Processor callback already seen by the reconciler
type ProcessorEvent struct {
	Processor  string
	EventID    string
	EventType  string
	ReceivedAt time.Time
}
