package server

import (
	"encoding/json"

	"slaline/internal/domain"
)

// Request payloads

type RegisterClientRequest struct {
	Name     string `json:"name"`
	OwnerRef string `json:"owner_ref,omitempty"`
}

type SLADefinitionRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Target        int64  `json:"target"`
	Comparator    string `json:"comparator" enum:"lt,le,eq,ne,ge,gt"`
	WindowSeconds int64  `json:"window_seconds,omitempty"`
}

type CreateContractRequest struct {
	ClientID    int64                  `json:"client_id"`
	ExternalID  string                 `json:"external_id,omitempty"`
	DocumentRef string                 `json:"document_ref,omitempty"`
	StartAt     string                 `json:"start_at,omitempty" format:"date-time"`
	EndAt       string                 `json:"end_at,omitempty" format:"date-time"`
	SLAs        []SLADefinitionRequest `json:"slas,omitempty"`
}

type UpdateContractDocumentRequest struct {
	DocumentRef string `json:"document_ref"`
}

type CreateSLARequest struct {
	ContractID int64 `json:"contract_id"`
	SLADefinitionRequest
}

type ReportMetricRequest struct {
	Observed int64  `json:"observed"`
	Note     string `json:"note,omitempty"`
}

type SLAStatusChangeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UpdateSLATargetRequest struct {
	Target int64  `json:"target"`
	Reason string `json:"reason,omitempty"`
}

type UpdateSLAParamsRequest struct {
	Comparator    string `json:"comparator" enum:"lt,le,eq,ne,ge,gt"`
	WindowSeconds int64  `json:"window_seconds"`
	Reason        string `json:"reason,omitempty"`
}

type ResolveAlertRequest struct {
	ResolutionNote string `json:"resolution_note,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID      string   `json:"actor_id"`
	Roles        []string `json:"roles,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ClientResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	OwnerRef  string `json:"owner_ref,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ContractResponse struct {
	ID          int64   `json:"id"`
	ClientID    int64   `json:"client_id"`
	ExternalID  string  `json:"external_id,omitempty"`
	DocumentRef string  `json:"document_ref,omitempty"`
	Active      bool    `json:"active"`
	StartAt     *string `json:"start_at,omitempty" format:"date-time"`
	EndAt       *string `json:"end_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type SLAResponse struct {
	ID                  int64   `json:"id"`
	ContractID          int64   `json:"contract_id"`
	Name                string  `json:"name"`
	Description         string  `json:"description,omitempty"`
	Target              int64   `json:"target"`
	Comparator          string  `json:"comparator" enum:"lt,le,eq,ne,ge,gt"`
	Status              string  `json:"status" enum:"active,paused,archived"`
	WindowSeconds       int64   `json:"window_seconds"`
	LastReportAt        *string `json:"last_report_at,omitempty" format:"date-time"`
	ConsecutiveBreaches int64   `json:"consecutive_breaches"`
	TotalBreaches       int64   `json:"total_breaches"`
	TotalPass           int64   `json:"total_pass"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
}

type AlertResponse struct {
	ID             int64   `json:"id"`
	SLAID          int64   `json:"sla_id"`
	Status         string  `json:"status" enum:"open,acknowledged,resolved"`
	Reason         string  `json:"reason,omitempty"`
	AcknowledgedBy *string `json:"acknowledged_by,omitempty"`
	ResolvedBy     *string `json:"resolved_by,omitempty"`
	ResolutionNote *string `json:"resolution_note,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type EvaluationResponse struct {
	SLA    SLAResponse    `json:"sla"`
	Passed bool           `json:"passed"`
	Alert  *AlertResponse `json:"alert,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID      string   `json:"actor_id"`
	Roles        []string `json:"roles"`
	Capabilities []string `json:"capabilities"`
}

type StatusResponse struct {
	Registry    string         `json:"registry"`
	Clients     int            `json:"clients"`
	SLACounts   map[string]int `json:"sla_counts"`
	AlertCounts map[string]int `json:"alert_counts"`
}

func clientResponse(c domain.Client) ClientResponse {
	return ClientResponse{
		ID:        c.ID,
		Name:      c.Name,
		OwnerRef:  c.OwnerRef,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
	}
}

func contractResponse(c domain.Contract) ContractResponse {
	return ContractResponse{
		ID:          c.ID,
		ClientID:    c.ClientID,
		ExternalID:  c.ExternalID,
		DocumentRef: c.DocumentRef,
		Active:      c.Active,
		StartAt:     c.StartAt,
		EndAt:       c.EndAt,
		CreatedAt:   c.CreatedAt,
	}
}

func slaResponse(s domain.SLA) SLAResponse {
	return SLAResponse{
		ID:                  s.ID,
		ContractID:          s.ContractID,
		Name:                s.Name,
		Description:         s.Description,
		Target:              s.Target,
		Comparator:          string(s.Comparator),
		Status:              string(s.Status),
		WindowSeconds:       s.WindowSeconds,
		LastReportAt:        s.LastReportAt,
		ConsecutiveBreaches: s.ConsecutiveBreaches,
		TotalBreaches:       s.TotalBreaches,
		TotalPass:           s.TotalPass,
		CreatedAt:           s.CreatedAt,
	}
}

func alertResponse(a domain.Alert) AlertResponse {
	return AlertResponse{
		ID:             a.ID,
		SLAID:          a.SLAID,
		Status:         string(a.Status),
		Reason:         a.Reason,
		AcknowledgedBy: a.AcknowledgedBy,
		ResolvedBy:     a.ResolvedBy,
		ResolutionNote: a.ResolutionNote,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func alertResponsePtr(a *domain.Alert) *AlertResponse {
	if a == nil {
		return nil
	}
	r := alertResponse(*a)
	return &r
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeJSONMap(evt.Payload),
	}
}

func mapClients(items []domain.Client) []ClientResponse {
	res := make([]ClientResponse, 0, len(items))
	for _, c := range items {
		res = append(res, clientResponse(c))
	}
	return res
}

func mapContracts(items []domain.Contract) []ContractResponse {
	res := make([]ContractResponse, 0, len(items))
	for _, c := range items {
		res = append(res, contractResponse(c))
	}
	return res
}

func mapSLAs(items []domain.SLA) []SLAResponse {
	res := make([]SLAResponse, 0, len(items))
	for _, s := range items {
		res = append(res, slaResponse(s))
	}
	return res
}

func mapAlerts(items []domain.Alert) []AlertResponse {
	res := make([]AlertResponse, 0, len(items))
	for _, a := range items {
		res = append(res, alertResponse(a))
	}
	return res
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
