package domain

type Client struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	OwnerRef  string `json:"owner_ref,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Contract struct {
	ID          int64   `json:"id"`
	ClientID    int64   `json:"client_id"`
	ExternalID  string  `json:"external_id,omitempty"`
	DocumentRef string  `json:"document_ref,omitempty"`
	Active      bool    `json:"active"`
	StartAt     *string `json:"start_at,omitempty" format:"date-time"`
	EndAt       *string `json:"end_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type SLA struct {
	ID          int64      `json:"id"`
	ContractID  int64      `json:"contract_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Target      int64      `json:"target"`
	Comparator  Comparator `json:"comparator" enum:"lt,le,eq,ne,ge,gt"`
	Status      SLAStatus  `json:"status" enum:"active,paused,archived"`
	// WindowSeconds is declared for schema compatibility; evaluation is
	// always single-sample and never aggregates over a window.
	WindowSeconds       int64   `json:"window_seconds"`
	LastReportAt        *string `json:"last_report_at,omitempty" format:"date-time"`
	ConsecutiveBreaches int64   `json:"consecutive_breaches"`
	TotalBreaches       int64   `json:"total_breaches"`
	TotalPass           int64   `json:"total_pass"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
}

type Alert struct {
	ID             int64       `json:"id"`
	SLAID          int64       `json:"sla_id"`
	Status         AlertStatus `json:"status" enum:"open,acknowledged,resolved"`
	Reason         string      `json:"reason,omitempty"`
	AcknowledgedBy *string     `json:"acknowledged_by,omitempty"`
	ResolvedBy     *string     `json:"resolved_by,omitempty"`
	ResolutionNote *string     `json:"resolution_note,omitempty"`
	CreatedAt      string      `json:"created_at" format:"date-time"`
	UpdatedAt      string      `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ActorProfile struct {
	ActorID      string   `json:"actor_id"`
	Roles        []string `json:"roles"`
	Capabilities []string `json:"capabilities"`
}

// SLAStatus is the lifecycle state of an SLA. Archived is reserved: the
// data model admits it but no operation transitions into or out of it.
type SLAStatus string

const (
	SLAActive   SLAStatus = "active"
	SLAPaused   SLAStatus = "paused"
	SLAArchived SLAStatus = "archived"
)

// AlertStatus is the lifecycle state of an Alert. Resolved is terminal.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)
