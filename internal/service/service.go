package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pharmaledger/backend/internal/cache"
	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/ledger"
	"pharmaledger/backend/internal/notify"
	"pharmaledger/backend/internal/stockstatus"
	"pharmaledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	LowStockThreshold int
	StoreTimeout      time.Duration
	SummaryTTL        time.Duration
	SummaryCache      cache.SummaryCache
	Notifier          notify.Publisher
	Logger            *zap.Logger
	Now               func() time.Time
}

type Service struct {
	repo         store.Repository
	ledger       *ledger.Ledger
	monitor      *stockstatus.Monitor
	summaries    cache.SummaryCache
	notifier     notify.Publisher
	logger       *zap.Logger
	storeTimeout time.Duration
	summaryTTL   time.Duration
	now          func() time.Time
}

func New(repo store.Repository, stockLedger *ledger.Ledger, opts Options) *Service {
	if opts.LowStockThreshold < 1 {
		opts.LowStockThreshold = stockstatus.DefaultLowThreshold
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = ledger.DefaultStoreTimeout
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 30 * time.Second
	}
	if opts.SummaryCache == nil {
		opts.SummaryCache = cache.NoopSummaryCache{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:         repo,
		ledger:       stockLedger,
		monitor:      stockstatus.NewMonitor(opts.LowStockThreshold),
		summaries:    opts.SummaryCache,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		storeTimeout: opts.StoreTimeout,
		summaryTTL:   opts.SummaryTTL,
		now:          opts.Now,
	}
}

func (s *Service) Threshold() int {
	return s.monitor.Threshold()
}

func cashierName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ""
	}
	if actor.DisplayName != "" {
		return actor.DisplayName
	}
	return actor.Username
}
