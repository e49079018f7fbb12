package queue

import (
	"context"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

// Snapshot builds the screen state. It only reads; since narrows recent calls
// to those strictly after the given instant.
func (s *Service) Snapshot(ctx context.Context, since *time.Time) (snapshot models.Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "queue.Snapshot")
	defer func() { endSpan(span, err) }()

	key := snapshotKey(since)
	var generation string
	if s.cache != nil {
		var cached models.Snapshot
		var ok bool
		if cached, generation, ok = s.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	snapshot = models.NewSnapshot(s.clock.Now())
	for _, qt := range models.QueueTypes {
		lane, err := s.laneState(ctx, qt)
		if err != nil {
			return models.Snapshot{}, err
		}
		snapshot.Lanes[qt] = lane
	}

	recent, err := s.store.ListTickets(ctx, store.TicketQuery{
		CalledOnly:  true,
		CalledAfter: since,
		OrderBy:     store.OrderCalledDesc,
		Limit:       s.policy.RecentLimit,
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	if recent != nil {
		snapshot.RecentCalls = recent
	}

	if s.cache != nil {
		s.cache.Set(ctx, generation, key, snapshot)
	}
	return snapshot, nil
}

func (s *Service) laneState(ctx context.Context, qt models.QueueType) (models.LaneState, error) {
	lane := models.LaneState{Waiting: []models.Ticket{}}

	active, err := s.store.ListTickets(ctx, store.TicketQuery{
		QueueType: qt,
		Statuses:  models.ActiveStatuses,
		OrderBy:   store.OrderCalledDesc,
		Limit:     1,
	})
	if err != nil {
		return models.LaneState{}, err
	}
	if len(active) > 0 {
		current := active[0]
		lane.Current = &current
	}

	waiting, err := s.store.ListTickets(ctx, store.TicketQuery{
		QueueType: qt,
		Statuses:  []string{models.StatusWaiting},
		OrderBy:   store.OrderCreatedAsc,
		Limit:     s.policy.WaitingLimit,
	})
	if err != nil {
		return models.LaneState{}, err
	}
	if waiting != nil {
		lane.Waiting = waiting
	}
	return lane, nil
}

func snapshotKey(since *time.Time) string {
	if since == nil {
		return "all"
	}
	return since.UTC().Format(time.RFC3339Nano)
}
