package gateway

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"grid-trader-go/portfolio"
)

func testSecret() string {
	return base64.StdEncoding.EncodeToString([]byte("secret"))
}

func newTestBroker(ts *httptest.Server) *CoinbaseBroker {
	cli := &CoinbaseClient{
		BaseURL:    ts.URL,
		Key:        "key",
		Secret:     testSecret(),
		Passphrase: "pass",
		HTTPClient: ts.Client(),
	}
	return NewCoinbaseBroker(cli, "ETH-USDC")
}

func TestCoinbaseBrokerPlaceCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("CB-ACCESS-SIGN") == "" {
			t.Fatalf("missing signature header")
		}
		if r.Method == http.MethodPost {
			io.WriteString(w, `{"id":"ord-abc"}`)
			return
		}
		if r.Method == http.MethodDelete {
			w.WriteHeader(200)
			return
		}
		t.Fatalf("unexpected method %s", r.Method)
	}))
	defer ts.Close()

	b := newTestBroker(ts)
	id, err := b.PlaceLimitBuy(3000, 1500, nil)
	if err != nil {
		t.Fatalf("place err: %v", err)
	}
	if id != "ord-abc" {
		t.Fatalf("unexpected order id %s", id)
	}

	o, err := b.OrderByID(id)
	if err != nil {
		t.Fatalf("order lookup err: %v", err)
	}
	if o.LimitPrice != 3000 || o.Budget != 1500 {
		t.Fatalf("unexpected order %+v", o)
	}
	if got := b.OpenOrderIDs(); len(got) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(got))
	}

	if err := b.CancelOrder(id); err != nil {
		t.Fatalf("cancel err: %v", err)
	}
	if err := b.CancelOrder(id); !errors.Is(err, portfolio.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelRetriesThenSucceeds(t *testing.T) {
	cancelBackoff = time.Millisecond
	defer func() { cancelBackoff = 500 * time.Millisecond }()

	deletes := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			io.WriteString(w, `{"id":"ord-1"}`)
			return
		}
		deletes++
		if deletes < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(200)
	}))
	defer ts.Close()

	b := newTestBroker(ts)
	id, err := b.PlaceMarketSell(0.5, nil)
	if err != nil {
		t.Fatalf("place err: %v", err)
	}
	if err := b.CancelOrder(id); err != nil {
		t.Fatalf("cancel err after retries: %v", err)
	}
	if deletes != 3 {
		t.Fatalf("expected 3 delete attempts, got %d", deletes)
	}
}

func TestCancelGivesUpWithConnectivityError(t *testing.T) {
	cancelBackoff = time.Millisecond
	defer func() { cancelBackoff = 500 * time.Millisecond }()

	deletes := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			io.WriteString(w, `{"id":"ord-1"}`)
			return
		}
		deletes++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	b := newTestBroker(ts)
	id, _ := b.PlaceMarketBuy(100, nil)
	err := b.CancelOrder(id)
	if !errors.Is(err, portfolio.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
	if deletes != cancelAttempts {
		t.Fatalf("expected %d attempts, got %d", cancelAttempts, deletes)
	}
	// 撤单失败时订单保留在注册表里
	if _, err := b.OrderByID(id); err != nil {
		t.Fatalf("order should remain tracked: %v", err)
	}
}

func TestPlaceRejectsNonPositiveSize(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	}))
	defer ts.Close()

	b := newTestBroker(ts)
	if _, err := b.PlaceMarketBuy(0, nil); !errors.Is(err, portfolio.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if _, err := b.PlaceLimitSell(100, -1, nil); !errors.Is(err, portfolio.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestRefreshAndStartupQueries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			io.WriteString(w, `[
				{"id":"a1","currency":"USDC","balance":"1200.5","available":"1000.25","hold":"200.25"},
				{"id":"a2","currency":"ETH","balance":"2.5","available":"2.0","hold":"0.5"}
			]`)
		case "/fills":
			if r.URL.Query().Get("product_id") != "ETH-USDC" {
				t.Fatalf("missing product_id query")
			}
			io.WriteString(w, `[
				{"trade_id":7,"product_id":"ETH-USDC","order_id":"ord-1","side":"buy","price":"3000","size":"0.1","fee":"1.5"}
			]`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	b := newTestBroker(ts)
	if err := b.Refresh(); err != nil {
		t.Fatalf("refresh err: %v", err)
	}
	if b.Cash() != 1000.25 {
		t.Fatalf("expected cash 1000.25, got %f", b.Cash())
	}
	if b.AssetQuantity() != 2.0 {
		t.Fatalf("expected quantity 2.0, got %f", b.AssetQuantity())
	}

	fills, err := b.Fills()
	if err != nil {
		t.Fatalf("fills err: %v", err)
	}
	if len(fills) != 1 || fills[0].OrderID != "ord-1" || fills[0].Side != "buy" {
		t.Fatalf("unexpected fills %+v", fills)
	}
}
