// Package oracle defines the price feed consumed by the risk engine. Prices
// are quoted in a common unit (USD) as exact rationals; the feed itself is an
// injected collaborator, never a process-wide singleton.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

// ErrPriceUnavailable reports a missing, zero or stale quote. Risk decisions
// fail closed on it.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// Quote is one observed price with its observation time.
type Quote struct {
	// Price is the asset price in the common quote unit.
	Price *big.Rat
	// AsOf is when the price was observed upstream.
	AsOf time.Time
}

// PriceFeed supplies asset prices for risk computations.
type PriceFeed interface {
	Price(ctx context.Context, symbol string) (Quote, error)
}

// StaticFeed is a mutable in-memory feed used in development and tests.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	now    func() time.Time
}

// NewStaticFeed returns an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string]Quote), now: time.Now}
}

// Set records a price for a symbol, stamped with the current time.
func (f *StaticFeed) Set(symbol string, price *big.Rat) {
	f.SetAt(symbol, price, f.now())
}

// SetAt records a price observed at an explicit time.
func (f *StaticFeed) SetAt(symbol string, price *big.Rat, asOf time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[normalize(symbol)] = Quote{Price: new(big.Rat).Set(price), AsOf: asOf}
}

// Price returns the stored quote or ErrPriceUnavailable.
func (f *StaticFeed) Price(_ context.Context, symbol string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[normalize(symbol)]
	if !ok || quote.Price == nil || quote.Price.Sign() <= 0 {
		return Quote{}, ErrPriceUnavailable
	}
	return Quote{Price: new(big.Rat).Set(quote.Price), AsOf: quote.AsOf}, nil
}

// Guarded wraps a feed and rejects quotes that are zero, negative or older
// than MaxAge, so stale upstream data can never loosen a risk check.
type Guarded struct {
	Feed   PriceFeed
	MaxAge time.Duration
	Now    func() time.Time
}

// NewGuarded wraps feed with a staleness window.
func NewGuarded(feed PriceFeed, maxAge time.Duration) *Guarded {
	return &Guarded{Feed: feed, MaxAge: maxAge, Now: time.Now}
}

// Price implements PriceFeed.
func (g *Guarded) Price(ctx context.Context, symbol string) (Quote, error) {
	if g == nil || g.Feed == nil {
		return Quote{}, ErrPriceUnavailable
	}
	quote, err := g.Feed.Price(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return Quote{}, ErrPriceUnavailable
	}
	if g.MaxAge > 0 {
		now := time.Now
		if g.Now != nil {
			now = g.Now
		}
		if now().Sub(quote.AsOf) > g.MaxAge {
			return Quote{}, ErrPriceUnavailable
		}
	}
	return quote, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
