package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestStaticFeedRoundTrip(t *testing.T) {
	feed := NewStaticFeed()
	feed.Set("eth", big.NewRat(2, 1))

	quote, err := feed.Price(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.Price.Cmp(big.NewRat(2, 1)) != 0 {
		t.Fatalf("price = %s, want 2", quote.Price.RatString())
	}

	if _, err := feed.Price(context.Background(), "BTC"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("missing symbol: %v", err)
	}
}

func TestGuardedRejectsStaleQuote(t *testing.T) {
	feed := NewStaticFeed()
	feed.SetAt("ETH", big.NewRat(1, 1), time.Now().Add(-10*time.Minute))
	guarded := NewGuarded(feed, 5*time.Minute)

	if _, err := guarded.Price(context.Background(), "ETH"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("stale quote accepted: %v", err)
	}
}

func TestGuardedAcceptsFreshQuote(t *testing.T) {
	feed := NewStaticFeed()
	feed.Set("ETH", big.NewRat(3, 2))
	guarded := NewGuarded(feed, 5*time.Minute)

	quote, err := guarded.Price(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("fresh quote rejected: %v", err)
	}
	if quote.Price.Cmp(big.NewRat(3, 2)) != 0 {
		t.Fatalf("price = %s", quote.Price.RatString())
	}
}

func TestGuardedRejectsNonPositivePrice(t *testing.T) {
	feed := NewStaticFeed()
	feed.Set("ETH", new(big.Rat))
	guarded := NewGuarded(feed, 0)

	if _, err := guarded.Price(context.Background(), "ETH"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("zero price accepted: %v", err)
	}
}
