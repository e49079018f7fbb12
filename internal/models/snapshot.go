package models

import "time"

type LaneState struct {
	Current *Ticket  `json:"current"`
	Waiting []Ticket `json:"waiting"`
}

// Snapshot is the screen state served to display and operator clients.
type Snapshot struct {
	Lanes       map[QueueType]LaneState `json:"lanes"`
	RecentCalls []Ticket                `json:"recent_calls"`
	GeneratedAt time.Time               `json:"generated_at"`
}

func NewSnapshot(now time.Time) Snapshot {
	lanes := make(map[QueueType]LaneState, len(QueueTypes))
	for _, qt := range QueueTypes {
		lanes[qt] = LaneState{Waiting: []Ticket{}}
	}
	return Snapshot{
		Lanes:       lanes,
		RecentCalls: []Ticket{},
		GeneratedAt: now,
	}
}
