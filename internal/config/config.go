// Package config loads the gateway's listener-scoped configuration from
// flags and environment variables, following the feed simulator's layering
// convention.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ndrandal/tradegate/internal/universe"
)

// Config holds everything a Listener needs to construct sessions.
type Config struct {
	Host string
	Port int

	MongoURI string

	ActiveProvider string

	RestAMobile     string
	RestAUCC        string
	RestAMPIN       string
	RestATOTPSecret string
	RestABaseURL    string

	RestBAPIKey      string
	RestBAPISecret   string
	RestBToken       string
	RestBAuthCode    string
	RestBRedirectURI string
	RestBBaseURL     string

	MockBasePrice      float64
	MockMaxDeviation   float64
	MockVolatility     float64
	MockMeanReversion  float64
	MockIntervalSecs   float64
	MockVolumeMin      int
	MockVolumeMax      int
	MockSeed           int64

	InstrumentCSVPath string
	WatchlistsPath    string

	FillRetentionDays int

	ArchiveDir           string
	ArchiveMaxGB         int
	ArchiveIntervalHours int
	ArchiveAfterHours    int

	OAuthAuthorizeURL string
	OAuthStateTTLSecs int
}

// Load parses flags into a Config. Each environment variable supplies its
// flag's default; a flag given on the command line overrides it.
func Load() *Config {
	c := &Config{}

	flag.StringVar(&c.Host, "host", envStr("GATEWAY_HOST", "0.0.0.0"), "listen host")
	flag.IntVar(&c.Port, "port", envInt("GATEWAY_PORT", 8200), "listen port")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/tradegate"), "MongoDB connection URI")

	flag.StringVar(&c.ActiveProvider, "provider", envStr("ACTIVE_PROVIDER", "mock"), "active provider: mock|rest_a|rest_b")

	flag.StringVar(&c.RestAMobile, "rest-a-mobile", envStr("REST_A_MOBILE", ""), "")
	flag.StringVar(&c.RestAUCC, "rest-a-ucc", envStr("REST_A_UCC", ""), "")
	flag.StringVar(&c.RestAMPIN, "rest-a-mpin", envStr("REST_A_MPIN", ""), "")
	flag.StringVar(&c.RestATOTPSecret, "rest-a-totp-secret", envStr("REST_A_TOTP_SECRET", ""), "")
	flag.StringVar(&c.RestABaseURL, "rest-a-base-url", envStr("REST_A_BASE_URL", ""), "")

	flag.StringVar(&c.RestBAPIKey, "rest-b-api-key", envStr("REST_B_API_KEY", ""), "")
	flag.StringVar(&c.RestBAPISecret, "rest-b-api-secret", envStr("REST_B_API_SECRET", ""), "")
	flag.StringVar(&c.RestBToken, "rest-b-token", envStr("REST_B_TOKEN", ""), "")
	flag.StringVar(&c.RestBAuthCode, "rest-b-auth-code", envStr("REST_B_AUTH_CODE", ""), "")
	flag.StringVar(&c.RestBRedirectURI, "rest-b-redirect-uri", envStr("REST_B_REDIRECT_URI", ""), "")
	flag.StringVar(&c.RestBBaseURL, "rest-b-base-url", envStr("REST_B_BASE_URL", ""), "")

	flag.Float64Var(&c.MockBasePrice, "mock-base-price", envFloat("MOCK_BASE_PRICE", 100), "")
	flag.Float64Var(&c.MockMaxDeviation, "mock-max-deviation", envFloat("MOCK_MAX_DEVIATION", 5), "")
	flag.Float64Var(&c.MockVolatility, "mock-volatility", envFloat("MOCK_VOLATILITY", 0.5), "")
	flag.Float64Var(&c.MockMeanReversion, "mock-mean-reversion", envFloat("MOCK_MEAN_REVERSION", 0.1), "")
	flag.Float64Var(&c.MockIntervalSecs, "mock-interval-seconds", envFloat("MOCK_INTERVAL_SECONDS", 1), "")
	flag.IntVar(&c.MockVolumeMin, "mock-volume-min", envInt("MOCK_VOLUME_MIN", 100), "")
	flag.IntVar(&c.MockVolumeMax, "mock-volume-max", envInt("MOCK_VOLUME_MAX", 1000), "")
	flag.Int64Var(&c.MockSeed, "mock-seed", envInt64("MOCK_SEED", 0), "0 = random")

	flag.StringVar(&c.InstrumentCSVPath, "instrument-csv", envStr("INSTRUMENT_CSV_PATH", "instruments.csv"), "")
	flag.StringVar(&c.WatchlistsPath, "watchlists", envStr("WATCHLISTS_PATH", ""), "optional YAML watchlist file")

	flag.IntVar(&c.FillRetentionDays, "fill-retention-days", envInt("FILL_RETENTION_DAYS", 30), "0 = keep forever")

	flag.StringVar(&c.ArchiveDir, "archive-dir", envStr("ARCHIVE_DIR", ""), "empty disables archival")
	flag.IntVar(&c.ArchiveMaxGB, "archive-max-gb", envInt("ARCHIVE_MAX_GB", 5), "")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval-hours", envInt("ARCHIVE_INTERVAL_HOURS", 6), "")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after-hours", envInt("ARCHIVE_AFTER_HOURS", 24), "")

	flag.StringVar(&c.OAuthAuthorizeURL, "oauth-authorize-url", envStr("OAUTH_AUTHORIZE_URL", "https://api.upstox.com/v2/login/authorization/dialog"), "")
	flag.IntVar(&c.OAuthStateTTLSecs, "oauth-state-ttl-seconds", envInt("OAUTH_STATE_TTL_SECONDS", 600), "")

	flag.Parse()

	return c
}

// LoadWatchlists reads an optional YAML file of named symbol lists used by
// the universe resolver's watchlist/index candidate sources. A missing or
// unset path returns an empty table rather than an error.
func LoadWatchlists(path string) (universe.Watchlists, error) {
	if path == "" {
		return universe.Watchlists{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return universe.Watchlists{}, nil
		}
		return nil, fmt.Errorf("config: read watchlists: %w", err)
	}
	var out universe.Watchlists
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("config: parse watchlists: %w", err)
	}
	return out, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
