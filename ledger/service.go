package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/warp/leave-ledger/cache"
	"github.com/warp/leave-ledger/logger"
)

// =============================================================================
// SERVICE - Wires processors, reconciler and read cache around one Store
// =============================================================================

// Observer receives operational signals. metrics.Ledger implements it.
type Observer interface {
	Outcome(op string, kind Kind)
	TxConflict(op string)
	CacheLookup(hit bool)
	Drift(categories int)
}

type nopObserver struct{}

func (nopObserver) Outcome(string, Kind) {}
func (nopObserver) TxConflict(string)    {}
func (nopObserver) CacheLookup(bool)     {}
func (nopObserver) Drift(int)            {}

// DefaultCategory is seeded into a brand-new person's balance on first read.
type DefaultCategory struct {
	Name string
	Days int
}

// Service exposes every ledger operation. It is safe for concurrent use.
type Service struct {
	store    Store
	cache    cache.Cache[View]
	log      *logger.Logger
	observer Observer
	now      func() time.Time
	newID    func() string

	maxTxAttempts int
	defaults      DefaultCategory
	recentEntries int
	autoRepair    bool

	flights singleflight.Group

	genMu sync.Mutex
	gens  map[PersonID]uint64
}

// Option configures a Service.
type Option func(*Service)

func WithCache(c cache.Cache[View]) Option         { return func(s *Service) { s.cache = c } }
func WithLogger(l *logger.Logger) Option           { return func(s *Service) { s.log = l } }
func WithObserver(o Observer) Option               { return func(s *Service) { s.observer = o } }
func WithClock(now func() time.Time) Option        { return func(s *Service) { s.now = now } }
func WithIDGenerator(gen func() string) Option     { return func(s *Service) { s.newID = gen } }
func WithMaxTxAttempts(n int) Option               { return func(s *Service) { s.maxTxAttempts = n } }
func WithDefaultCategory(d DefaultCategory) Option { return func(s *Service) { s.defaults = d } }
func WithRecentEntries(n int) Option               { return func(s *Service) { s.recentEntries = n } }
func WithAutoRepair(enabled bool) Option           { return func(s *Service) { s.autoRepair = enabled } }

// NewService builds a Service. Without WithCache an in-process cache with the
// default TTL is used.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		observer:      nopObserver{},
		now:           time.Now,
		newID:         uuid.NewString,
		maxTxAttempts: defaultMaxTxAttempts,
		defaults:      DefaultCategory{Name: CategoryAnnual, Days: 24},
		recentEntries: 20,
		gens:          make(map[PersonID]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewMemory[View](cache.DefaultTTL, cache.WithClock(s.now))
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}
