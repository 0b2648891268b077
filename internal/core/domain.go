package core

import "time"

// ============================================================================
// IDENTITY & ROLES
// ============================================================================

// RoleName is the closed set of RBAC roles.
type RoleName string

const (
	RoleCitizen         RoleName = "citizen"
	RoleCaregiver       RoleName = "caregiver"
	RoleASHA            RoleName = "asha"
	RoleClinician       RoleName = "clinician"
	RoleDistrictOfficer RoleName = "district_officer"
	RoleStateOfficer    RoleName = "state_officer"
	RoleNationalAdmin   RoleName = "national_admin"
)

// OfficerRoles are the roles allowed to see dashboards and close complaints.
var OfficerRoles = []RoleName{RoleDistrictOfficer, RoleStateOfficer, RoleNationalAdmin}

// ValidRole reports whether name is in the closed role set.
func ValidRole(name RoleName) bool {
	switch name {
	case RoleCitizen, RoleCaregiver, RoleASHA, RoleClinician,
		RoleDistrictOfficer, RoleStateOfficer, RoleNationalAdmin:
		return true
	}
	return false
}

// User is an account holder. IDs are immutable; rows are destroyed only by
// right-to-erasure.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile holds the demographic fields used for de-identified analytics.
// ClientTime is the last client-asserted write time used for sync LWW.
type Profile struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	FullName   *string    `json:"full_name,omitempty"`
	Age        *int       `json:"age,omitempty"`
	Sex        *string    `json:"sex,omitempty"`
	Pincode    *string    `json:"pincode,omitempty"`
	ClientTime *time.Time `json:"client_time,omitempty"`
	// EventID of the sync event that last wrote the profile; tie-break for LWW.
	ClientEventID *string   `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuthToken is an opaque revocable bearer token.
type AuthToken struct {
	Token     string     `json:"-"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// ============================================================================
// CONSENT
// ============================================================================

type ConsentCategory string

const (
	ConsentTracking   ConsentCategory = "tracking"
	ConsentCloudSync  ConsentCategory = "cloud_sync"
	ConsentNeuro      ConsentCategory = "neuro"
	ConsentComplaints ConsentCategory = "complaints"
	ConsentAnalytics  ConsentCategory = "analytics"
)

func ValidConsentCategory(c ConsentCategory) bool {
	switch c {
	case ConsentTracking, ConsentCloudSync, ConsentNeuro, ConsentComplaints, ConsentAnalytics:
		return true
	}
	return false
}

type ConsentScope string

const (
	ScopeASHA          ConsentScope = "asha"
	ScopeClinician     ConsentScope = "clinician"
	ScopeGovAggregated ConsentScope = "gov_aggregated"
)

func ValidConsentScope(s ConsentScope) bool {
	switch s {
	case ScopeASHA, ScopeClinician, ScopeGovAggregated:
		return true
	}
	return false
}

// Consent is one immutable grant/revoke record. The current state of a
// (user, category, scope) pair is the newest row.
type Consent struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Category  ConsentCategory `json:"category"`
	Scope     ConsentScope    `json:"scope"`
	Version   int             `json:"version"`
	Granted   bool            `json:"granted"`
	GrantedAt time.Time       `json:"granted_at"`
}

// ============================================================================
// AUDIT
// ============================================================================

// AuditEntry is one link in the tamper-evident chain. EntryHash binds the
// entry content to PrevHash; seq 1 chains from the zero-hash sentinel.
type AuditEntry struct {
	Seq         int64     `json:"seq"`
	ActorUserID *string   `json:"actor_user_id,omitempty"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    *string   `json:"entity_id,omitempty"`
	IP          *string   `json:"ip,omitempty"`
	DeviceID    *string   `json:"device_id,omitempty"`
	TS          time.Time `json:"ts"`
	PrevHash    string    `json:"prev_hash"`
	EntryHash   string    `json:"entry_hash"`
}

// ============================================================================
// SYNC
// ============================================================================

// SyncOutcome is the per-item result of a sync batch.
type SyncOutcome string

const (
	SyncAccepted  SyncOutcome = "accepted"
	SyncDuplicate SyncOutcome = "duplicate"
)

// SyncRejected builds a rejected outcome with a reason suffix, e.g.
// "rejected:stale".
func SyncRejected(reason string) SyncOutcome { return SyncOutcome("rejected:" + reason) }

// SyncEvent is the raw stored envelope; EventID is the idempotency key.
type SyncEvent struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	EntityType string    `json:"entity_type"`
	Operation  string    `json:"operation"`
	ClientTime time.Time `json:"client_time"`
	ServerTime time.Time `json:"server_time"`
	Payload    []byte    `json:"payload"`
	Outcome    string    `json:"outcome"`
}

// ============================================================================
// TRIAGE & TELECONSULT
// ============================================================================

type TriageCategory string

const (
	TriageSelfCare  TriageCategory = "self_care"
	TriagePHC       TriageCategory = "phc"
	TriageEmergency TriageCategory = "emergency"
)

type TriageSession struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	SymptomsText string         `json:"symptoms_text"`
	Category     TriageCategory `json:"category"`
	RedFlags     []string       `json:"red_flags"`
	GuidanceText string         `json:"guidance_text"`
	Language     string         `json:"language"`
	CreatedAt    time.Time      `json:"created_at"`
}

type TeleRequestStatus string

const (
	TeleRequested  TeleRequestStatus = "requested"
	TeleScheduled  TeleRequestStatus = "scheduled"
	TeleInProgress TeleRequestStatus = "in_progress"
	TeleCompleted  TeleRequestStatus = "completed"
)

type TeleRequest struct {
	ID          string            `json:"id"`
	CitizenID   string            `json:"citizen_id"`
	ClinicianID *string           `json:"clinician_id,omitempty"`
	Status      TeleRequestStatus `json:"status"`
	Summary     string            `json:"summary"`
	CreatedAt   time.Time         `json:"created_at"`
}

type Prescription struct {
	ID            string    `json:"id"`
	TeleRequestID string    `json:"tele_request_id"`
	ClinicianID   string    `json:"clinician_id"`
	Items         []string  `json:"items"`
	SummaryText   string    `json:"summary_text"` // 160-300 chars enforced
	CreatedAt     time.Time `json:"created_at"`
}

// ============================================================================
// COMPLAINTS & SLA
// ============================================================================

type ComplaintStatus string

const (
	ComplaintDraft       ComplaintStatus = "draft"
	ComplaintSubmitted   ComplaintStatus = "submitted"
	ComplaintUnderReview ComplaintStatus = "under_review"
	ComplaintInProgress  ComplaintStatus = "in_progress"
	ComplaintResolved    ComplaintStatus = "resolved"
	ComplaintEscalated   ComplaintStatus = "escalated"
	ComplaintClosed      ComplaintStatus = "closed"
)

// EscalationLevel orders district < state < national.
type EscalationLevel string

const (
	LevelDistrict EscalationLevel = "district"
	LevelState    EscalationLevel = "state"
	LevelNational EscalationLevel = "national"
)

// NextLevel returns the level above l; national is a fixed point.
func NextLevel(l EscalationLevel) EscalationLevel {
	switch l {
	case LevelDistrict:
		return LevelState
	case LevelState:
		return LevelNational
	}
	return LevelNational
}

type Complaint struct {
	ID                  string          `json:"id"`
	SubmitterID         *string         `json:"submitter_id,omitempty"` // nil = anonymous
	Category            string          `json:"category"`
	PayloadEncrypted    []byte          `json:"-"`
	Status              ComplaintStatus `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	SLADeadline         time.Time       `json:"sla_deadline"`
	EscalationLevel     EscalationLevel `json:"escalation_level"`
	EscalationExhausted bool            `json:"escalation_exhausted"`
	ClosureFeedback     *string         `json:"closure_feedback,omitempty"`
	ClosureHash         *string         `json:"closure_hash,omitempty"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
	ClosedAt            *time.Time      `json:"closed_at,omitempty"`
}

// Anonymous reports whether the complaint has no submitter on record.
func (c *Complaint) Anonymous() bool { return c.SubmitterID == nil }

// StatusHistory is one append-only record of a complaint transition.
type StatusHistory struct {
	ID               string          `json:"id"`
	ComplaintID      string          `json:"complaint_id"`
	OldStatus        ComplaintStatus `json:"old_status"`
	NewStatus        ComplaintStatus `json:"new_status"`
	OldLevel         EscalationLevel `json:"old_level"`
	NewLevel         EscalationLevel `json:"new_level"`
	ChangedByUserID  *string         `json:"changed_by_user_id,omitempty"`
	Reason           string          `json:"reason"`
	IsAutoEscalation bool            `json:"is_auto_escalation"`
	ChangedAt        time.Time       `json:"changed_at"`
}

// SLARule configures the deadline for a (category, level) pair.
type SLARule struct {
	ID             string          `json:"id"`
	Category       string          `json:"category"`
	Level          EscalationLevel `json:"level"`
	TimeLimitHours int             `json:"time_limit_hours"`
}

// ============================================================================
// ANCHORING
// ============================================================================

type AnchorStatus string

const (
	AnchorPending      AnchorStatus = "pending"
	AnchorConfirmed    AnchorStatus = "confirmed"
	AnchorPendingRetry AnchorStatus = "pending_retry"
	AnchorFailed       AnchorStatus = "failed"
)

// ChainAnchor tracks what has been (or will be) written on chain for one
// complaint. StatusNonce is strictly increasing per anchor.
type ChainAnchor struct {
	ID            string       `json:"id"`
	ComplaintID   string       `json:"complaint_id"`
	ComplaintHash string       `json:"complaint_hash"`
	SLAHash       string       `json:"sla_hash"`
	StatusHash    string       `json:"status_hash"`
	StatusNonce   uint64       `json:"status_nonce"`
	TxHash        *string      `json:"tx_hash,omitempty"`
	Status        AnchorStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
}

// ============================================================================
// ANALYTICS
// ============================================================================

// AnalyticsEvent is the audit-only raw row; PayloadJSON is guaranteed free of
// disallowed keys by the emission pipeline.
type AnalyticsEvent struct {
	ID          string    `json:"id"`
	AuditUserID string    `json:"-"` // consent audit only, never exported
	EventType   string    `json:"event_type"`
	PayloadJSON []byte    `json:"payload_json"`
	CreatedAt   time.Time `json:"created_at"`
}

// AggregatedEvent is one bucketed count row. Key dimensions follow
// event_type|category|time_bucket|geo_cell|age_bucket|gender.
type AggregatedEvent struct {
	EventType  string    `json:"event_type"`
	Category   string    `json:"category"`
	TimeBucket time.Time `json:"time_bucket"`
	GeoCell    string    `json:"geo_cell"`
	AgeBucket  string    `json:"age_bucket"`
	Gender     string    `json:"gender"`
	Count      int64     `json:"count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ============================================================================
// OUTBOUND MESSAGES
// ============================================================================

type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

type OutboundMessage struct {
	ID        string        `json:"id"`
	UserID    *string       `json:"user_id,omitempty"`
	Channel   string        `json:"channel"`
	Payload   []byte        `json:"payload"`
	Status    MessageStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	CreatedAt time.Time     `json:"created_at"`
}

// ReportVersion is stamped at the top level of every report/export payload.
// Major bump on breaking schema change, minor on additive.
const ReportVersion = "1.0"
