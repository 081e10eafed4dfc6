package gateway

import (
	"testing"
	"time"
)

func TestParseTicker(t *testing.T) {
	tick, err := parseTicker(tickerMsg{
		Type:      "ticker",
		ProductID: "ETH-USDC",
		Price:     "3284.59",
		Time:      "2022-01-15T12:30:45.123456Z",
	})
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if tick.Price != 3284.59 {
		t.Fatalf("unexpected price %f", tick.Price)
	}
	want := time.Date(2022, 1, 15, 12, 30, 45, 123456000, time.UTC)
	if !tick.Time.Equal(want) {
		t.Fatalf("unexpected time %v", tick.Time)
	}
}

func TestParseTickerRejectsBadPrice(t *testing.T) {
	if _, err := parseTicker(tickerMsg{Price: "abc"}); err == nil {
		t.Fatal("expected error for non-numeric price")
	}
	if _, err := parseTicker(tickerMsg{Price: "-1"}); err == nil {
		t.Fatal("expected error for negative price")
	}
	if _, err := parseTicker(tickerMsg{Price: ""}); err == nil {
		t.Fatal("expected error for empty price")
	}
}

func TestParseTickerFallsBackToNowOnBadTime(t *testing.T) {
	before := time.Now().UTC()
	tick, err := parseTicker(tickerMsg{Price: "100", Time: "not-a-time"})
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if tick.Time.Before(before) {
		t.Fatalf("expected fallback timestamp, got %v", tick.Time)
	}
}
