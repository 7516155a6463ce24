package model

// ActionType is the kind of locally-originated write queued for upstream
// delivery. Unapprove is its own variant rather than an approve payload
// flag, so the processor dispatch never string-sniffs the payload.
type ActionType string

const (
	ActionApprove   ActionType = "approve"
	ActionUnapprove ActionType = "unapprove"
	ActionComment   ActionType = "comment"
	ActionReply     ActionType = "reply"
	ActionResolve   ActionType = "resolve"
	ActionUnresolve ActionType = "unresolve"
)

// ParseActionType maps a raw string to a known ActionType, defaulting to
// ActionComment for anything unrecognized (matching the lenient parse
// behavior used throughout this cache layer).
func ParseActionType(s string) ActionType {
	switch ActionType(s) {
	case ActionApprove, ActionUnapprove, ActionComment, ActionReply, ActionResolve, ActionUnresolve:
		return ActionType(s)
	default:
		return ActionComment
	}
}

// SyncStatus is the queue entry's position in the state machine
// pending -> syncing -> {synced, pending(retry), failed, discarded}.
type SyncStatus string

const (
	StatusPending   SyncStatus = "pending"
	StatusSyncing   SyncStatus = "syncing"
	StatusSynced    SyncStatus = "synced"
	StatusFailed    SyncStatus = "failed"
	StatusDiscarded SyncStatus = "discarded"
)

// ParseSyncStatus maps a raw string to a known SyncStatus, defaulting to
// StatusPending for anything unrecognized.
func ParseSyncStatus(s string) SyncStatus {
	switch SyncStatus(s) {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed, StatusDiscarded:
		return SyncStatus(s)
	default:
		return StatusPending
	}
}

// MaxRetries is the retry budget: MarkFailed transitions to terminal
// `failed` once retry_count reaches this value.
const MaxRetries int64 = 5

// SyncAction is one queued, durable write intent.
type SyncAction struct {
	ID               int64
	MRID             int64
	ActionType       ActionType
	Payload          string // serialized JSON payload, shape depends on ActionType
	LocalReferenceID *int64 // local Comment.ID, for comment/reply actions
	Status           SyncStatus
	RetryCount       int64
	LastError        *string
	CreatedAt        int64
	SyncedAt         *int64
}

// CanRetry reports whether a failed action is still within its retry budget.
func (a *SyncAction) CanRetry() bool {
	return a.Status == StatusFailed && a.RetryCount < MaxRetries
}

// IsPending reports whether the action is still in flight (pending or
// currently being processed).
func (a *SyncAction) IsPending() bool {
	return a.Status == StatusPending || a.Status == StatusSyncing
}

// LogStatus is the outcome of one logged sync operation.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// MaxLogEntries bounds the sync_log ring buffer.
const MaxLogEntries int64 = 50

// SyncLog is one bounded-history record of a sync operation, for
// observability (status displays, `ultragitlab log`).
type SyncLog struct {
	ID         int64
	Operation  string
	Status     LogStatus
	MRID       *int64
	Message    *string
	DurationMs *int64
	Timestamp  int64
}

// IsError reports whether this log entry represents a failed operation.
func (l *SyncLog) IsError() bool { return l.Status == LogError }

// ActionCounts summarizes the queue for status reporting. Discarded rows
// are excluded from both fields.
type ActionCounts struct {
	Pending int64
	Failed  int64
}

// Payload shapes, one per ActionType. These are marshaled/unmarshaled as
// the SyncAction.Payload JSON blob.

type ApprovalPayload struct {
	ProjectID int64 `json:"projectId"`
	MRIID     int64 `json:"mrIid"`
}

type CommentPayload struct {
	ProjectID int64   `json:"projectId"`
	MRIID     int64   `json:"mrIid"`
	Body      string  `json:"body"`
	FilePath  *string `json:"filePath,omitempty"`
	OldLine   *int64  `json:"oldLine,omitempty"`
	NewLine   *int64  `json:"newLine,omitempty"`
	BaseSHA   *string `json:"baseSha,omitempty"`
	HeadSHA   *string `json:"headSha,omitempty"`
	StartSHA  *string `json:"startSha,omitempty"`
}

// IsInline reports whether this comment payload targets a file position.
func (p *CommentPayload) IsInline() bool { return p.FilePath != nil }

// HasAllSHAs reports whether base/head/start are all present, required for
// the inline-comment endpoint.
func (p *CommentPayload) HasAllSHAs() bool {
	return p.BaseSHA != nil && p.HeadSHA != nil && p.StartSHA != nil
}

type ReplyPayload struct {
	ProjectID    int64  `json:"projectId"`
	MRIID        int64  `json:"mrIid"`
	DiscussionID string `json:"discussionId"`
	Body         string `json:"body"`
}

type ResolvePayload struct {
	ProjectID    int64  `json:"projectId"`
	MRIID        int64  `json:"mrIid"`
	DiscussionID string `json:"discussionId"`
}
