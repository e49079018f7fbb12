package queue

import (
	"context"
	"io"
	"log/slog"
	"time"

	"qms/walkin-queue/internal/clock"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const businessDateLayout = "2006-01-02"

// Policy holds the lane settings that are fixed for a deployment.
type Policy struct {
	Prefixes     map[models.QueueType]string
	NumberPad    int
	WaitingLimit int
	RecentLimit  int
	Location     *time.Location
	// DayCutover shifts the business day boundary past local midnight.
	DayCutover   time.Duration
	PrintEnabled bool
}

func DefaultPolicy() Policy {
	loc, err := time.LoadLocation("Asia/Tashkent")
	if err != nil {
		loc = time.FixedZone("UZT", 5*60*60)
	}
	return Policy{
		Prefixes: map[models.QueueType]string{
			models.QueueReg:  "R",
			models.QueueTech: "T",
		},
		NumberPad:    3,
		WaitingLimit: 10,
		RecentLimit:  20,
		Location:     loc,
	}
}

// SnapshotCache stores rendered snapshots between polls. Implementations must
// tolerate being unavailable; a miss simply recomputes.
type SnapshotCache interface {
	// Get also reports the generation it read; Set writes under that
	// generation so a snapshot built before an invalidation is never served.
	Get(ctx context.Context, key string) (models.Snapshot, string, bool)
	Set(ctx context.Context, generation, key string, snapshot models.Snapshot)
	Invalidate(ctx context.Context)
}

// Service is the ticket lifecycle engine: issuance, calling, terminal
// transitions and the screen snapshot. It keeps no state of its own between
// calls; every guarantee comes from the store's atomic operations.
type Service struct {
	store  store.Store
	clock  clock.Clock
	policy Policy
	cache  SnapshotCache
	logger *slog.Logger
	tracer trace.Tracer
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithSnapshotCache(cache SnapshotCache) Option {
	return func(s *Service) { s.cache = cache }
}

func NewService(st store.Store, policy Policy, opts ...Option) *Service {
	defaults := DefaultPolicy()
	if policy.Prefixes == nil {
		policy.Prefixes = defaults.Prefixes
	}
	if policy.NumberPad <= 0 {
		policy.NumberPad = defaults.NumberPad
	}
	if policy.WaitingLimit <= 0 {
		policy.WaitingLimit = defaults.WaitingLimit
	}
	if policy.RecentLimit <= 0 {
		policy.RecentLimit = defaults.RecentLimit
	}
	if policy.Location == nil {
		policy.Location = defaults.Location
	}

	s := &Service{
		store:  st,
		clock:  clock.NewSystem(),
		policy: policy,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("qms/walkin-queue/queue"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BusinessDate returns the ticket_date an instant belongs to.
func (s *Service) BusinessDate(t time.Time) string {
	return t.In(s.policy.Location).Add(-s.policy.DayCutover).Format(businessDateLayout)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) invalidateSnapshot(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}
