// Package config loads the balance engine configuration from the
// environment.
package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Config holds all runtime settings. DBDSN and RedisURL are optional:
// without a database the in-memory store is used, and without Redis
// the oracle skips its price cache.
type Config struct {
	HTTPAddr        string
	DBDSN           string
	RedisURL        string
	AdminToken      string
	PriceFeedURL    string
	PrimaryCurrency string
	WinSide         string
	PriceCacheTTL   time.Duration
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	c := Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		DBDSN:           os.Getenv("DB_DSN"),
		RedisURL:        os.Getenv("REDIS_URL"),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		PriceFeedURL:    os.Getenv("PRICE_FEED_URL"),
		PrimaryCurrency: strings.ToUpper(getenv("PRIMARY_CURRENCY", "USDT")),
		WinSide:         strings.ToLower(getenv("WIN_SIDE", "long")),
	}

	if c.AdminToken == "" {
		return c, errors.New("missing required env: ADMIN_TOKEN")
	}
	if c.WinSide != "long" && c.WinSide != "short" {
		return c, errors.New("invalid WIN_SIDE: use long or short")
	}

	ttl := getenv("PRICE_CACHE_TTL", "15s")
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return c, errors.New("invalid PRICE_CACHE_TTL: " + ttl)
	}
	c.PriceCacheTTL = d

	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
