// Package config loads daemon configuration from an optional .env file and
// from environment variables prefixed LEDGER_, the way the teacher's
// pkg/config loaded SERVER_/DATABASE_/LOG_-prefixed variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// StoreConfig controls the embedded transactional store (§4.2, §6).
type StoreConfig struct {
	Path          string `env:"LEDGER_STORE_PATH"`
	BusyTimeoutMS int    `env:"LEDGER_STORE_BUSY_TIMEOUT_MS"`
	SyncMode      string `env:"LEDGER_STORE_SYNC_MODE"` // off|normal|full
	CacheMB       int    `env:"LEDGER_STORE_CACHE_MB"`
	SnapshotDir   string `env:"LEDGER_STORE_SNAPSHOT_DIR"`
	LockTimeoutS  int    `env:"LEDGER_STORE_LOCK_TIMEOUT_S"`
}

// DaemonConfig controls MasterDaemon supervision and maintenance (§4.1).
type DaemonConfig struct {
	GraceShutdownS       int    `env:"LEDGER_DAEMON_GRACE_SHUTDOWN_S"`
	HealthTimeoutS       int    `env:"LEDGER_DAEMON_HEALTH_TIMEOUT_S"`
	ProbeTimeoutS        int    `env:"LEDGER_DAEMON_PROBE_TIMEOUT_S"`
	HealthCheckIntervalS int    `env:"LEDGER_DAEMON_HEALTH_CHECK_INTERVAL_S"`
	CheckpointEveryS     int    `env:"LEDGER_DAEMON_CHECKPOINT_EVERY_S"`
	CompactCron          string `env:"LEDGER_DAEMON_COMPACT_CRON"`
	OrphanLockEveryS     int    `env:"LEDGER_DAEMON_ORPHAN_LOCK_EVERY_S"`
	OrphanLockAfterS     int    `env:"LEDGER_DAEMON_ORPHAN_LOCK_AFTER_S"`
	ChainVerifyCron      string `env:"LEDGER_DAEMON_CHAIN_VERIFY_CRON"`
	ChainVerifyWindow    int    `env:"LEDGER_DAEMON_CHAIN_VERIFY_WINDOW"`
	MaxRestartBackoffS   int    `env:"LEDGER_DAEMON_MAX_RESTART_BACKOFF_S"`
	QuarantineAfterTries int    `env:"LEDGER_DAEMON_QUARANTINE_AFTER_TRIES"`
}

// CollectorConfig controls Collector parsing (§4.3).
type CollectorConfig struct {
	InputDir        string `env:"LEDGER_COLLECTOR_INPUT_DIR"`
	Workers         int    `env:"LEDGER_COLLECTOR_WORKERS"`
	QueueSize       int    `env:"LEDGER_COLLECTOR_QUEUE_SIZE"`
	PerFileTimeoutS int    `env:"LEDGER_COLLECTOR_PER_FILE_TIMEOUT_S"`
	GroupWindowS    int    `env:"LEDGER_COLLECTOR_GROUP_WINDOW_S"`
	ScanIntervalS   int    `env:"LEDGER_COLLECTOR_SCAN_INTERVAL_S"`
	OCREndpoint     string `env:"LEDGER_COLLECTOR_OCR_ENDPOINT"`
	OCRTimeoutS     int    `env:"LEDGER_COLLECTOR_OCR_TIMEOUT_S"`
}

// AuditConfig controls AuditorAgent policy (§4.5).
type AuditConfig struct {
	Strategy        string   `env:"LEDGER_AUDIT_STRATEGY"` // STRICT|BALANCED|GROWTH
	AmountTierT1    float64  `env:"LEDGER_AUDIT_AMOUNT_TIER_T1"`
	RedLines        []string `env:"LEDGER_AUDIT_RED_LINES"`
	ReviewBand      float64  `env:"LEDGER_AUDIT_REVIEW_BAND"`
	AbsoluteCeiling float64  `env:"LEDGER_AUDIT_ABSOLUTE_CEILING"`
}

// AccountingConfig controls AccountingAgent / L1-L2 routing (§4.4).
type AccountingConfig struct {
	L2Enabled             bool    `env:"LEDGER_ACCOUNTING_L2_ENABLED"`
	L2StepCap             int     `env:"LEDGER_ACCOUNTING_L2_STEP_CAP"`
	L2TimeoutS            int     `env:"LEDGER_ACCOUNTING_L2_TIMEOUT_S"`
	TokenBudgetDaily      int     `env:"LEDGER_ACCOUNTING_TOKEN_BUDGET_DAILY"`
	TokenBudgetMonthly    int     `env:"LEDGER_ACCOUNTING_TOKEN_BUDGET_MONTHLY"`
	CacheTTLS             int     `env:"LEDGER_ACCOUNTING_CACHE_TTL_S"`
	CacheSize             int     `env:"LEDGER_ACCOUNTING_CACHE_SIZE"`
	CircuitWindowS        int     `env:"LEDGER_ACCOUNTING_CIRCUIT_WINDOW_S"`
	CircuitMaxFailures    int     `env:"LEDGER_ACCOUNTING_CIRCUIT_MAX_FAILURES"`
	CircuitCoolOffS       int     `env:"LEDGER_ACCOUNTING_CIRCUIT_COOLOFF_S"`
	LowConfidenceUpgradeN int     `env:"LEDGER_ACCOUNTING_LOW_CONF_UPGRADE_N"`
	L1ConfidenceBand      float64 `env:"LEDGER_ACCOUNTING_L1_CONFIDENCE_BAND"`
}

// MatchConfig controls MatchEngine reconciliation (§4.6).
type MatchConfig struct {
	Tolerance          float64 `env:"LEDGER_MATCH_TOLERANCE"`
	WindowDays         int     `env:"LEDGER_MATCH_WINDOW_DAYS"`
	AutoThreshold      float64 `env:"LEDGER_MATCH_AUTO_THRESHOLD"`
	IntermediateFloor  float64 `env:"LEDGER_MATCH_INTERMEDIATE_FLOOR"`
	AutoPost           bool    `env:"LEDGER_MATCH_AUTO_POST"`
	BatchSize          int     `env:"LEDGER_MATCH_BATCH_SIZE"`
	EvidenceAfterHours int     `env:"LEDGER_MATCH_EVIDENCE_AFTER_HOURS"`
}

// InteractionConfig controls InteractionHub cards, outbox and webhook (§4.7, §6).
type InteractionConfig struct {
	CardTTLS            int    `env:"LEDGER_INTERACTION_CARD_TTL_S"`
	ReplayWindowS       int    `env:"LEDGER_INTERACTION_REPLAY_WINDOW_S"`
	CallbackSecret      string `env:"LEDGER_INTERACTION_CALLBACK_SECRET"`
	OutboxPollS         int    `env:"LEDGER_INTERACTION_OUTBOX_POLL_S"`
	OutboxMaxAttempts   int    `env:"LEDGER_INTERACTION_OUTBOX_MAX_ATTEMPTS"`
	OutboxBackoffBaseMS int    `env:"LEDGER_INTERACTION_OUTBOX_BACKOFF_BASE_MS"`
	OutboxDepthAlert    int    `env:"LEDGER_INTERACTION_OUTBOX_DEPTH_ALERT"`
	OutboxWebhookURL    string `env:"LEDGER_INTERACTION_OUTBOX_WEBHOOK_URL"`
	ListenAddr          string `env:"LEDGER_INTERACTION_LISTEN_ADDR"`
}

// EgressConfig controls the sanitizing egress proxy (§4.7).
type EgressConfig struct {
	Allowlist        []string `env:"LEDGER_EGRESS_ALLOWLIST"`
	MaxRetries       int      `env:"LEDGER_EGRESS_MAX_RETRIES"`
	BackoffBaseMS    int      `env:"LEDGER_EGRESS_BACKOFF_BASE_MS"`
	RequestTimeoutS  int      `env:"LEDGER_EGRESS_REQUEST_TIMEOUT_S"`
	ReasonerEndpoint string   `env:"LEDGER_EGRESS_REASONER_ENDPOINT"`
}

// LoggingConfig controls the logrus-backed logger.
type LoggingConfig struct {
	Level      string `env:"LEDGER_LOG_LEVEL"`
	Format     string `env:"LEDGER_LOG_FORMAT"`
	Output     string `env:"LEDGER_LOG_OUTPUT"`
	FilePrefix string `env:"LEDGER_LOG_FILE_PREFIX"`
}

// Config is the top-level daemon configuration.
type Config struct {
	Store       StoreConfig
	Daemon      DaemonConfig
	Collector   CollectorConfig
	Audit       AuditConfig
	Accounting  AccountingConfig
	Match       MatchConfig
	Interaction InteractionConfig
	Egress      EgressConfig
	Logging     LoggingConfig
}

// New returns a configuration populated with the defaults named in spec §6.
func New() *Config {
	return &Config{
		Store: StoreConfig{
			Path:          "data/ledger.db",
			BusyTimeoutMS: 5000,
			SyncMode:      "normal",
			CacheMB:       64,
			SnapshotDir:   "data/snapshots",
			LockTimeoutS:  300,
		},
		Daemon: DaemonConfig{
			GraceShutdownS:       5,
			HealthTimeoutS:       60,
			ProbeTimeoutS:        5,
			HealthCheckIntervalS: 10,
			CheckpointEveryS:     60,
			CompactCron:          "0 0 * * *",
			OrphanLockEveryS:     300,
			OrphanLockAfterS:     300,
			ChainVerifyCron:      "*/10 * * * *",
			ChainVerifyWindow:    500,
			MaxRestartBackoffS:   60,
			QuarantineAfterTries: 3,
		},
		Collector: CollectorConfig{
			InputDir:        "data/inbox",
			Workers:         4,
			QueueSize:       256,
			PerFileTimeoutS: 30,
			GroupWindowS:    60,
			ScanIntervalS:   5,
		},
		Audit: AuditConfig{
			Strategy:        "BALANCED",
			AmountTierT1:    10000.00,
			ReviewBand:      0.6,
			AbsoluteCeiling: 1_000_000.00,
		},
		Accounting: AccountingConfig{
			L2Enabled:             true,
			L2StepCap:             5,
			L2TimeoutS:            30,
			TokenBudgetDaily:      200000,
			TokenBudgetMonthly:    4000000,
			CacheTTLS:             3600,
			CacheSize:             2048,
			CircuitWindowS:        300,
			CircuitMaxFailures:    5,
			CircuitCoolOffS:       60,
			LowConfidenceUpgradeN: 3,
			L1ConfidenceBand:      0.9,
		},
		Match: MatchConfig{
			Tolerance:          0.01,
			WindowDays:         7,
			AutoThreshold:      0.90,
			IntermediateFloor:  0.65,
			AutoPost:           false,
			BatchSize:          100,
			EvidenceAfterHours: 48,
		},
		Interaction: InteractionConfig{
			CardTTLS:            86400,
			ReplayWindowS:       60,
			OutboxPollS:         2,
			OutboxMaxAttempts:   8,
			OutboxBackoffBaseMS: 500,
			OutboxDepthAlert:    200,
			ListenAddr:          ":8080",
		},
		Egress: EgressConfig{
			MaxRetries:      3,
			BackoffBaseMS:   200,
			RequestTimeoutS: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "ledgerd",
		},
	}
}

// Load loads configuration from an optional .env file and environment
// variables, applying defaults first the way the teacher's Load does.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged fields were set in the environment;
		// treat that as "no overrides" so a bare `ledgerd` run still works.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.Daemon.GraceShutdownS <= 0 {
		c.Daemon.GraceShutdownS = 5
	}
	var allow []string
	for _, entry := range c.Egress.Allowlist {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				allow = append(allow, part)
			}
		}
	}
	c.Egress.Allowlist = allow
	if strings.TrimSpace(c.Interaction.CallbackSecret) == "" {
		if secret := strings.TrimSpace(os.Getenv("LEDGER_INTERACTION_CALLBACK_SECRET")); secret != "" {
			c.Interaction.CallbackSecret = secret
		}
	}
}

// GraceShutdown returns DaemonConfig.GraceShutdownS as a time.Duration.
func (c DaemonConfig) GraceShutdown() time.Duration {
	return time.Duration(c.GraceShutdownS) * time.Second
}

// HealthTimeout returns DaemonConfig.HealthTimeoutS as a time.Duration.
func (c DaemonConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutS) * time.Second
}

// ProbeTimeout returns DaemonConfig.ProbeTimeoutS as a time.Duration.
func (c DaemonConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutS) * time.Second
}
