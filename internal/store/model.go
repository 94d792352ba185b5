// Package store is the persistence and integrity layer: the single source
// of truth for ledger entries, pending entries, rules, outbox events,
// interaction cards, heartbeats and snapshots. All writes are
// transactional; concurrent writers busy-wait with exponential backoff
// plus jitter via internal/resilience.StorePreset.
package store

// EntryState is the lifecycle state of a Ledger Entry.
type EntryState string

const (
	StateProposed EntryState = "PROPOSED"
	StateAudited  EntryState = "AUDITED"
	StatePosted   EntryState = "POSTED"
	StateRejected EntryState = "REJECTED"
	StateRisk     EntryState = "RISK"
	StateReverted EntryState = "REVERTED"
	StateLocking  EntryState = "LOCKING"
)

// terminal reports whether a row in this state is append-only at the
// storage layer (I2: no silent mutation).
func (s EntryState) terminal() bool {
	switch s {
	case StatePosted, StateRejected, StateReverted:
		return true
	default:
		return false
	}
}

// LedgerEntry is the core immutable accounting record (spec §3). Amount is
// represented in micros (millionths of the ledger's unit currency, int64)
// rather than a decimal type: "aggregation at scale 6" is the data model's
// own requirement, and no decimal library appears anywhere in the example
// corpus for this domain, so a fixed-point integer is the grounded choice
// over fabricating a dependency.
type LedgerEntry struct {
	ID             int64  `db:"id"`
	TraceID        string `db:"trace_id"`
	AmountMicros   int64  `db:"amount_micros"`
	Vendor         string `db:"vendor"`
	Category       string `db:"category"`
	OccurredAt     int64  `db:"occurred_at"`
	GroupID        *string `db:"group_id"`
	ProjectID      *string `db:"project_id"`
	TenantID       *string `db:"tenant_id"`
	InferenceLog   *string `db:"inference_log"`
	MatchedRule    *string `db:"matched_rule"`
	PrevHash       *string `db:"prev_hash"`
	ChainHash      string  `db:"chain_hash"`
	State          EntryState `db:"state"`
	LockOwner      *string `db:"lock_owner"`
	LockExpiresAt  *int64  `db:"lock_expires_at"`
	ReversesID     *int64  `db:"reverses_id"`
	RevertedByID   *int64  `db:"reverted_by_id"`
	InsertedAt     int64   `db:"inserted_at"`
	UpdatedAt      int64   `db:"updated_at"`
}

// PendingEntry is a shadow row for a bank/payment line awaiting match.
type PendingEntry struct {
	ID              int64   `db:"id"`
	TraceID         string  `db:"trace_id"`
	Source          string  `db:"source"` // ALIPAY | WECHAT | BANK
	Counterparty    string  `db:"counterparty"`
	AmountMicros    int64   `db:"amount_micros"`
	OccurredAt      int64   `db:"occurred_at"`
	Description     *string `db:"description"`
	GroupID         *string `db:"group_id"`
	TenantID        *string `db:"tenant_id"`
	Status          string  `db:"status"` // UNRECONCILED | MATCHED | RECONCILED
	MatchedLedgerID *int64  `db:"matched_ledger_id"`
	InsertedAt      int64   `db:"inserted_at"`
	UpdatedAt       int64   `db:"updated_at"`
}

// DocumentRecord is a Collector output row for an invoice/receipt-shaped
// file: something the AccountingAgent still needs to classify, as opposed
// to a PendingEntry which already carries bank/payment reconciliation
// fields.
type DocumentRecord struct {
	ID            int64   `db:"id"`
	TraceID       string  `db:"trace_id"`
	ContentHash   string  `db:"content_hash"`
	Source        string  `db:"source"` // ALIPAY | WECHAT | BANK | INVOICE_OCR
	Vendor        string  `db:"vendor"`
	AmountMicros  int64   `db:"amount_micros"`
	OccurredAt    int64   `db:"occurred_at"`
	RawPath       string  `db:"raw_path"`
	GroupID       *string `db:"group_id"`
	TenantID      *string `db:"tenant_id"`
	Status        string  `db:"status"` // PENDING | CLASSIFIED | FAILED
	FailCause     *string `db:"fail_cause"`
	InsertedAt    int64   `db:"inserted_at"`
	UpdatedAt     int64   `db:"updated_at"`
}

// CollectorAttempt is Collector's per-file soft-fail ledger, keyed by full
// file content hash so a re-scan of an already-seen file is a no-op.
type CollectorAttempt struct {
	ContentHash string  `db:"content_hash"`
	FilePath    string  `db:"file_path"`
	Status      string  `db:"status"` // PARSED | FAILED
	Cause       *string `db:"cause"`
	AttemptedAt int64   `db:"attempted_at"`
}

// Rule is a knowledge-base entry owned by KnowledgeBridge.
type Rule struct {
	RuleID             string  `db:"rule_id"`
	Version            int     `db:"version"`
	KeywordPattern     string  `db:"keyword_pattern"`
	IsRegex            bool    `db:"is_regex"`
	Conditions         *string `db:"conditions"`
	ProposedCategory   string  `db:"proposed_category"`
	Priority           int     `db:"priority"`
	AuditLevel         string  `db:"audit_level"`
	HitCount           int     `db:"hit_count"`
	RejectCount        int     `db:"reject_count"`
	ConsecutiveSuccess int     `db:"consecutive_success"`
	ValidUntil         *int64  `db:"valid_until"`
	Source             string  `db:"source"`
	CreatedAt          int64   `db:"created_at"`
	UpdatedAt          int64   `db:"updated_at"`
}

// OutboxEvent is a durable record of something InteractionHub must deliver.
type OutboxEvent struct {
	EventID       string `db:"event_id"`
	Kind          string `db:"kind"`
	Payload       []byte `db:"payload"`
	Status        string `db:"status"`
	Attempts      int    `db:"attempts"`
	NextAttemptAt int64  `db:"next_attempt_at"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

// InteractionCard is an operator-facing approval/decision card.
type InteractionCard struct {
	CardID          string  `db:"card_id"`
	Kind            string  `db:"kind"`
	CallbackToken   string  `db:"callback_token"`
	CreatedAt       int64   `db:"created_at"`
	ExpiresAt       int64   `db:"expires_at"`
	RequiredRole    string  `db:"required_role"`
	Status          string  `db:"status"`
	LinkedEntityRef *string `db:"linked_entity_ref"`
	Payload         *string `db:"payload"`
	ReplayMarker    *string `db:"replay_marker"`
	UpdatedAt       int64   `db:"updated_at"`
}

// Heartbeat is one row per supervised worker.
type Heartbeat struct {
	WorkerName    string  `db:"worker_name"`
	PID           int     `db:"pid"`
	LastBeatAt    int64   `db:"last_beat_at"`
	State         string  `db:"state"`
	RestartCount  int     `db:"restart_count"`
	PanicSnapshot *string `db:"panic_snapshot"`
	UpdatedAt     int64   `db:"updated_at"`
}

// Snapshot is a physical, point-in-time copy of the store.
type Snapshot struct {
	SnapshotID   string `db:"snapshot_id"`
	CreatedAt    int64  `db:"created_at"`
	Description  string `db:"description"`
	SizeBytes    int64  `db:"size_bytes"`
	FileLocation string `db:"file_location"`
}

// AuditVerdict is one judge's verdict on a ledger entry, backing the
// v_audit_trail view.
type AuditVerdict struct {
	ID            int64  `db:"id"`
	LedgerEntryID int64  `db:"ledger_entry_id"`
	Judge         string `db:"judge"`
	Verdict       string `db:"verdict"`
	Reason        *string `db:"reason"`
	CreatedAt     int64  `db:"created_at"`
}
