package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
)

type Config struct {
	RPCURL            string
	WSPath            string
	ReferenceRPCURL   string // optional: second node for block tx diffing
	DBDialect         string // postgres only
	DBDsn             string // DSN string passed to GORM driver
	AppAPIURL         string // optional: Cosmos REST API base URL (e.g., http://node:1317)
	FullPollInterval  time.Duration
	ConsensusInterval time.Duration
	FetchTimeout      time.Duration
	DivergenceWindow  time.Duration
	HistorySize       int
	MetricsAddr       string // empty disables the /metrics endpoint
	Debug             bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %d\n", key, v, def)
		return def
	}
	return n
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func Load() Config {
	cfg := Config{
		RPCURL:            getenv("RPC_URL", "http://localhost:26657"),
		WSPath:            getenv("WS_PATH", "/websocket"),
		ReferenceRPCURL:   os.Getenv("REFERENCE_RPC_URL"),
		AppAPIURL:         os.Getenv("APP_API_URL"),
		FullPollInterval:  getenvDuration("FULL_POLL_INTERVAL", 3*time.Second),
		ConsensusInterval: getenvDuration("CONSENSUS_POLL_INTERVAL", time.Second),
		FetchTimeout:      getenvDuration("FETCH_TIMEOUT", 10*time.Second),
		DivergenceWindow:  getenvDuration("DIVERGENCE_WINDOW", 5*time.Second),
		HistorySize:       getenvInt("HISTORY_SIZE", 50),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		Debug:             getenvBool("DEBUG", false),
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg
}

func (c Config) WSURL() string {
	// cometbft http client expects a separate ws endpoint path
	return c.WSPath
}

func (c Config) String() string {
	return fmt.Sprintf("rpc=%s ws_path=%s db=%s", c.RPCURL, c.WSPath, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"rpc=%s ws_path=%s reference_rpc=%s db=%s dsn=%s app_api_url=%s full=%s consensus=%s history=%d metrics=%s",
		c.RPCURL,
		c.WSPath,
		c.ReferenceRPCURL,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.AppAPIURL,
		c.FullPollInterval,
		c.ConsensusInterval,
		c.HistorySize,
		c.MetricsAddr,
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
