package oracle_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/oracle"
)

func TestPrices_NoFeedUsesFallback(t *testing.T) {
	c := oracle.NewClient("", "USDT", nil, 0)
	prices := c.Prices(context.Background())

	if !prices["BTC"].Equal(decimal.NewFromInt(65000)) {
		t.Errorf("BTC = %s, want 65000 from fallback", prices["BTC"])
	}
	if !prices["USDT"].Equal(decimal.NewFromInt(1)) {
		t.Errorf("USDT = %s, want 1", prices["USDT"])
	}
}

func TestPrices_LiveFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"BTC":"70000","ETH":"3500"}`))
	}))
	defer srv.Close()

	c := oracle.NewClient(srv.URL, "USDT", nil, 0)
	prices := c.Prices(context.Background())

	if !prices["BTC"].Equal(decimal.NewFromInt(70000)) {
		t.Errorf("BTC = %s, want 70000 from feed", prices["BTC"])
	}
	if !prices["ETH"].Equal(decimal.NewFromInt(3500)) {
		t.Errorf("ETH = %s, want 3500 from feed", prices["ETH"])
	}
	if !prices["USDT"].Equal(decimal.NewFromInt(1)) {
		t.Errorf("stable unit = %s, want 1 regardless of feed", prices["USDT"])
	}
}

func TestPrices_FeedErrorDegradesToFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := oracle.NewClient(srv.URL, "USDT", nil, 0)
	prices := c.Prices(context.Background())

	if !prices["BTC"].Equal(decimal.NewFromInt(65000)) {
		t.Errorf("BTC = %s, want fallback 65000 on feed error", prices["BTC"])
	}
}

func TestPrices_MalformedFeedDegradesToFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := oracle.NewClient(srv.URL, "USDT", nil, 0)
	prices := c.Prices(context.Background())

	if !prices["ETH"].Equal(decimal.NewFromInt(3000)) {
		t.Errorf("ETH = %s, want fallback 3000 on malformed feed", prices["ETH"])
	}
}

func TestPrices_NonPositiveFeedEntriesDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BTC":"70000","BAD":"0","WORSE":"-5"}`))
	}))
	defer srv.Close()

	c := oracle.NewClient(srv.URL, "USDT", nil, 0)
	prices := c.Prices(context.Background())

	if _, ok := prices["BAD"]; ok {
		t.Error("zero-priced entry should be dropped")
	}
	if _, ok := prices["WORSE"]; ok {
		t.Error("negative-priced entry should be dropped")
	}
	if !prices["BTC"].Equal(decimal.NewFromInt(70000)) {
		t.Errorf("BTC = %s, want 70000", prices["BTC"])
	}
}

func TestPrices_StableUnitOverridesFeed(t *testing.T) {
	// A feed quoting the stable unit at anything other than 1 must not
	// leak through.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"USDT":"0.97","BTC":"70000"}`))
	}))
	defer srv.Close()

	c := oracle.NewClient(srv.URL, "USDT", nil, 0)
	prices := c.Prices(context.Background())

	if !prices["USDT"].Equal(decimal.NewFromInt(1)) {
		t.Errorf("USDT = %s, want pinned 1", prices["USDT"])
	}
}
