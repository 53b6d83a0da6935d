package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atabank/backend/internal/config"
	"github.com/atabank/backend/internal/models"
)

type RateStatus int

const (
	// RatesFresh means the set was fetched by this call.
	RatesFresh RateStatus = iota
	// RatesCached means the set is inside the freshness window.
	RatesCached
	// RatesStale means a refresh failed and an older set is served.
	RatesStale
	// RatesUnavailable means a refresh failed and there is nothing to serve.
	RatesUnavailable
)

func (s RateStatus) String() string {
	switch s {
	case RatesFresh:
		return "fresh"
	case RatesCached:
		return "cached"
	case RatesStale:
		return "stale"
	case RatesUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("RateStatus(%d)", int(s))
	}
}

// RateSnapshot is what GetRates hands out. Err holds the refresh failure
// for stale and unavailable snapshots.
type RateSnapshot struct {
	Rates     map[string]models.ExchangeRate
	FetchedAt time.Time
	Status    RateStatus
	Err       error

	order []string
}

// Ordered lists the rates in configured currency order.
func (s RateSnapshot) Ordered() []models.ExchangeRate {
	order := s.order
	if len(order) == 0 {
		for code := range s.Rates {
			order = append(order, code)
		}
		sort.Strings(order)
	}

	out := make([]models.ExchangeRate, 0, len(s.Rates))
	for _, code := range order {
		if rate, ok := s.Rates[code]; ok {
			out = append(out, rate)
		}
	}
	return out
}

func (s RateSnapshot) Lookup(code string) (models.ExchangeRate, bool) {
	rate, ok := s.Rates[code]
	return rate, ok
}

func (s RateSnapshot) Degraded() bool {
	return s.Status == RatesStale || s.Status == RatesUnavailable
}

// RateService caches spread-adjusted rates for the freshness window.
type RateService struct {
	client QuoteClient
	store  RateSnapshotStore
	cfg    config.RatesConfig
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	rates      map[string]models.ExchangeRate
	fetchedAt  time.Time
	lastUpdate time.Time
}

// NewRateService builds the cache. store may be nil.
func NewRateService(client QuoteClient, store RateSnapshotStore, cfg config.RatesConfig, logger *zap.Logger) *RateService {
	return &RateService{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// GetRates serves the cached set while it is younger than the TTL and
// otherwise makes exactly one refresh attempt. Failures never surface as
// errors; they degrade the snapshot status instead.
func (s *RateService) GetRates(ctx context.Context) RateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.rates) > 0 && now.Sub(s.lastUpdate) < s.cfg.TTL {
		return s.snapshot(RatesCached, nil)
	}

	mids, err := s.client.FetchMidRates(ctx)
	if err == nil && len(mids) == 0 {
		err = fmt.Errorf("%w: feed returned no configured currencies", ErrRateUnavailable)
	}
	if err != nil {
		s.logger.Warn("Exchange rate refresh failed", zap.String("base", s.cfg.Base), zap.Error(err))
		if len(s.rates) == 0 {
			s.restore(ctx)
		}
		if len(s.rates) == 0 {
			return RateSnapshot{Status: RatesUnavailable, Err: err, order: s.cfg.Currencies}
		}
		return s.snapshot(RatesStale, err)
	}

	rates := make(map[string]models.ExchangeRate, len(mids))
	for code, mid := range mids {
		info := models.LookupCurrency(code)
		rates[code] = models.ExchangeRate{
			Code:     code,
			Name:     info.Name,
			Symbol:   info.Symbol,
			BuyRate:  mid.Mul(s.cfg.BuySpread).RoundBank(4),
			SellRate: mid.Mul(s.cfg.SellSpread).RoundBank(4),
		}
	}
	s.rates = rates
	s.fetchedAt = now
	s.lastUpdate = now

	snap := s.snapshot(RatesFresh, nil)
	if s.store != nil {
		stored := StoredRates{FetchedAt: now.UTC(), Rates: snap.Ordered()}
		if err := s.store.Save(ctx, s.cfg.Base, stored); err != nil {
			s.logger.Warn("Failed to persist rate snapshot", zap.Error(err))
		}
	}
	return snap
}

// restore loads the persisted snapshot into memory without touching
// lastUpdate, so the next call still tries the feed.
func (s *RateService) restore(ctx context.Context) {
	if s.store == nil {
		return
	}
	stored, err := s.store.Load(ctx, s.cfg.Base)
	if err != nil {
		s.logger.Warn("Failed to load rate snapshot", zap.Error(err))
		return
	}
	if stored == nil || len(stored.Rates) == 0 {
		return
	}

	rates := make(map[string]models.ExchangeRate, len(stored.Rates))
	for _, rate := range stored.Rates {
		rates[rate.Code] = rate
	}
	s.rates = rates
	s.fetchedAt = stored.FetchedAt
	s.logger.Info("Serving persisted exchange rates", zap.Time("fetched_at", stored.FetchedAt))
}

func (s *RateService) snapshot(status RateStatus, err error) RateSnapshot {
	rates := make(map[string]models.ExchangeRate, len(s.rates))
	for code, rate := range s.rates {
		rates[code] = rate
	}
	return RateSnapshot{
		Rates:     rates,
		FetchedAt: s.fetchedAt,
		Status:    status,
		Err:       err,
		order:     s.cfg.Currencies,
	}
}

