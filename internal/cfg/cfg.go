package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"
)

// Config holds application settings that are not owned by a go-core package.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL       string
	DBSlowQuery       time.Duration
	DBMaxConns        int
	RedisAddr         string
	RedisPassword     string
	LockTTL           time.Duration
	NATSURL           string
	NATSSubjectPrefix string
	NATSRelay         bool
	NATSRelayQueue    string
	SlackWebhookURL   string
	NotifyDedupSize   int
	StationsFile      string
	RecordLookupURL   string
	RecordLookupToken string
	LookupTimeout     time.Duration
	LookupConcurrency int
	JWTSigningKey     string
	TokenTTL          time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.DurationVar(&c.DBSlowQuery, "db-slow-query", 200*time.Millisecond, "log queries slower than this at warn level")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..1000)")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for cross-instance alert locks (empty = in-process locks)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.DurationVar(&c.LockTTL, "lock-ttl", 10*time.Second, "lease on a Redis alert lock")

	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for notification publishing (empty = disabled)")
	fs.StringVar(&c.NATSSubjectPrefix, "nats-subject-prefix", "watchpost", "subject prefix for published notifications")
	fs.BoolVar(&c.NATSRelay, "nats-relay", false, "consume notifications from NATS and forward them to Slack")
	fs.StringVar(&c.NATSRelayQueue, "nats-relay-queue", "watchpost-relay", "queue group shared by relaying instances")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.IntVar(&c.NotifyDedupSize, "notify-dedup-size", 4096, "notification ids remembered for relay de-duplication")

	fs.StringVar(&c.StationsFile, "stations-file", "", "YAML station directory, reloaded on change (empty = no recipient expansion)")

	fs.StringVar(&c.RecordLookupURL, "record-lookup-url", "", "lost and found records service base URL (empty = references stay unresolved)")
	fs.StringVar(&c.RecordLookupToken, "record-lookup-token", "", "bearer token for the records service")
	fs.DurationVar(&c.LookupTimeout, "lookup-timeout", 2*time.Second, "timeout for one record lookup")
	fs.IntVar(&c.LookupConcurrency, "lookup-concurrency", 8, "concurrent record lookups per alert (1..64)")

	fs.StringVar(&c.JWTSigningKey, "jwt-signing-key", "", "HMAC key used to verify agent tokens")
	fs.DurationVar(&c.TokenTTL, "token-ttl", 12*time.Hour, "lifetime of issued agent tokens")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseURL != "" && (c.DBMaxConns <= 0 || c.DBMaxConns > 1000) {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..1000)", c.DBMaxConns))
	}
	if c.DBSlowQuery < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY %s (must not be negative)", c.DBSlowQuery))
	}

	// Redis lock lease
	if c.RedisAddr != "" && c.LockTTL < time.Second {
		errs = append(errs, fmt.Errorf("invalid LOCK_TTL %s (must be at least 1s)", c.LockTTL))
	}

	if c.NATSRelay {
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_RELAY requires NATS_URL"))
		}
		if c.NATSRelayQueue == "" {
			errs = append(errs, errors.New("NATS_RELAY_QUEUE is required when NATS_RELAY is set"))
		}
	}
	if c.NATSURL != "" && c.NATSSubjectPrefix == "" {
		errs = append(errs, errors.New("NATS_SUBJECT_PREFIX is required when NATS_URL is set"))
	}
	if c.NotifyDedupSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_DEDUP_SIZE %d (must be positive)", c.NotifyDedupSize))
	}

	if c.RecordLookupURL != "" {
		if u, err := url.Parse(c.RecordLookupURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid RECORD_LOOKUP_URL %q (must be an absolute URL)", c.RecordLookupURL))
		}
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid LOOKUP_TIMEOUT %s (must be positive)", c.LookupTimeout))
	}
	if c.LookupConcurrency <= 0 || c.LookupConcurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid LOOKUP_CONCURRENCY %d (must be 1..64)", c.LookupConcurrency))
	}

	// Identity comes only from signed tokens
	if len(c.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required and must be at least 32 bytes"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid TOKEN_TTL %s (must be positive)", c.TokenTTL))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
