package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"slaline/internal/config"
	"slaline/internal/domain"
	"slaline/internal/engine/auth"
	"slaline/internal/events"
	"slaline/internal/repo"
)

// Precondition failures surfaced to callers. Checked before any mutation;
// on failure no partial state change is observable.
var (
	ErrInvalidReference   = errors.New("invalid reference")
	ErrSLANotActive       = errors.New("sla not active")
	ErrSLANotPaused       = errors.New("sla not paused")
	ErrAlertNotOpen       = errors.New("alert not open")
	ErrAlertNotResolvable = errors.New("alert not resolvable")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func idStr(id int64) string {
	return strconv.FormatInt(id, 10)
}

// RegisterClient creates a client. No precondition: always succeeds.
func (e Engine) RegisterClient(ctx context.Context, name, ownerRef, actorID string) (domain.Client, error) {
	if name == "" {
		return domain.Client{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()

	c := domain.Client{
		Name:      name,
		OwnerRef:  ownerRef,
		Active:    true,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	c.ID, err = e.Repo.InsertClientTx(ctx, tx, c)
	if err != nil {
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeClientRegistered, "client", idStr(c.ID), actorID, events.EventPayload{
		"client_id": c.ID,
		"name":      c.Name,
	}); err != nil {
		return domain.Client{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

// SLADefinition describes one SLA to attach to a contract.
type SLADefinition struct {
	Name          string
	Description   string
	Target        int64
	Comparator    domain.Comparator
	WindowSeconds int64
}

// ContractCreateOptions are parameters for creating a contract, optionally
// together with an initial batch of SLA definitions.
type ContractCreateOptions struct {
	ClientID    int64
	ExternalID  string
	DocumentRef string
	StartAt     string
	EndAt       string
	SLAs        []SLADefinition
	ActorID     string
}

// CreateContract creates a contract under an active client, then any batch
// SLA definitions in list order with sequentially increasing ids. One
// "created" signal is emitted per entity: the contract first, then each SLA.
func (e Engine) CreateContract(ctx context.Context, opts ContractCreateOptions) (domain.Contract, []domain.SLA, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, nil, err
	}
	defer tx.Rollback()

	client, err := e.Repo.GetClientTx(ctx, tx, opts.ClientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Contract{}, nil, fmt.Errorf("%w: client %d does not exist", ErrInvalidReference, opts.ClientID)
		}
		return domain.Contract{}, nil, err
	}
	if !client.Active {
		return domain.Contract{}, nil, fmt.Errorf("%w: client %d is not active", ErrInvalidReference, opts.ClientID)
	}
	for i, def := range opts.SLAs {
		if err := validateSLADefinition(def); err != nil {
			return domain.Contract{}, nil, fmt.Errorf("sla definition %d: %w", i, err)
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Contract{
		ClientID:    opts.ClientID,
		ExternalID:  opts.ExternalID,
		DocumentRef: opts.DocumentRef,
		Active:      true,
		StartAt:     optionalString(opts.StartAt),
		EndAt:       optionalString(opts.EndAt),
		CreatedAt:   now,
	}
	c.ID, err = e.Repo.InsertContractTx(ctx, tx, c)
	if err != nil {
		return domain.Contract{}, nil, fmt.Errorf("insert contract: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeContractCreated, "contract", idStr(c.ID), opts.ActorID, events.EventPayload{
		"contract_id":  c.ID,
		"client_id":    c.ClientID,
		"document_ref": c.DocumentRef,
		"sla_count":    len(opts.SLAs),
	}); err != nil {
		return domain.Contract{}, nil, err
	}

	var created []domain.SLA
	for _, def := range opts.SLAs {
		s, err := e.insertSLATx(ctx, tx, c.ID, def, now, opts.ActorID)
		if err != nil {
			return domain.Contract{}, nil, err
		}
		created = append(created, s)
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, nil, err
	}
	return c, created, nil
}

// UpdateContractDocument replaces the contract's document reference, the
// only mutable contract field besides the active flag.
func (e Engine) UpdateContractDocument(ctx context.Context, contractID int64, documentRef, actorID string) (domain.Contract, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetContractTx(ctx, tx, contractID); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Repo.UpdateContractDocumentTx(ctx, tx, contractID, documentRef); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeContractUpdated, "contract", idStr(contractID), actorID, events.EventPayload{
		"contract_id":  contractID,
		"document_ref": documentRef,
	}); err != nil {
		return domain.Contract{}, err
	}
	c, err := e.Repo.GetContractTx(ctx, tx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// SLACreateOptions are parameters for attaching a standalone SLA.
type SLACreateOptions struct {
	ContractID int64
	SLADefinition
	ActorID string
}

// AddSLA attaches an SLA to an active contract.
func (e Engine) AddSLA(ctx context.Context, opts SLACreateOptions) (domain.SLA, error) {
	if err := validateSLADefinition(opts.SLADefinition); err != nil {
		return domain.SLA{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SLA{}, err
	}
	defer tx.Rollback()

	contract, err := e.Repo.GetContractTx(ctx, tx, opts.ContractID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.SLA{}, fmt.Errorf("%w: contract %d does not exist", ErrInvalidReference, opts.ContractID)
		}
		return domain.SLA{}, err
	}
	if !contract.Active {
		return domain.SLA{}, fmt.Errorf("%w: contract %d is not active", ErrInvalidReference, opts.ContractID)
	}
	now := e.now().UTC().Format(time.RFC3339)
	s, err := e.insertSLATx(ctx, tx, opts.ContractID, opts.SLADefinition, now, opts.ActorID)
	if err != nil {
		return domain.SLA{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SLA{}, err
	}
	return s, nil
}

func validateSLADefinition(def SLADefinition) error {
	if def.Name == "" {
		return errors.New("name is required")
	}
	if _, err := domain.ParseComparator(string(def.Comparator)); err != nil {
		return err
	}
	if def.WindowSeconds < 0 {
		return errors.New("window_seconds must not be negative")
	}
	return nil
}

func (e Engine) insertSLATx(ctx context.Context, tx *sql.Tx, contractID int64, def SLADefinition, now, actorID string) (domain.SLA, error) {
	windowSeconds := def.WindowSeconds
	if windowSeconds == 0 && e.Config != nil {
		windowSeconds = e.Config.Defaults.WindowSeconds
	}
	s := domain.SLA{
		ContractID:    contractID,
		Name:          def.Name,
		Description:   def.Description,
		Target:        def.Target,
		Comparator:    def.Comparator,
		Status:        domain.SLAActive,
		WindowSeconds: windowSeconds,
		CreatedAt:     now,
	}
	var err error
	s.ID, err = e.Repo.InsertSLATx(ctx, tx, s)
	if err != nil {
		return domain.SLA{}, fmt.Errorf("insert sla: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeSLACreated, "sla", idStr(s.ID), actorID, events.EventPayload{
		"sla_id":         s.ID,
		"contract_id":    s.ContractID,
		"name":           s.Name,
		"target":         s.Target,
		"comparator":     string(s.Comparator),
		"window_seconds": s.WindowSeconds,
	}); err != nil {
		return domain.SLA{}, err
	}
	return s, nil
}

// EvaluationOutcome is the result of one metric evaluation.
type EvaluationOutcome struct {
	SLA    domain.SLA    `json:"sla"`
	Passed bool          `json:"passed"`
	Alert  *domain.Alert `json:"alert,omitempty"`
}

// ReportMetric evaluates one observation against the SLA's threshold rule
// as a single atomic transition: updates counters and lastReportAt, and on
// a failing evaluation creates exactly one Open alert and emits the
// sla.violated signal other systems subscribe to.
func (e Engine) ReportMetric(ctx context.Context, slaID, observed int64, note, actorID string) (EvaluationOutcome, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return EvaluationOutcome{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSLATx(ctx, tx, slaID)
	if err != nil {
		return EvaluationOutcome{}, err
	}
	if s.Status != domain.SLAActive {
		return EvaluationOutcome{}, fmt.Errorf("%w: sla %d is %s", ErrSLANotActive, slaID, s.Status)
	}

	passed := s.Comparator.Evaluate(observed, s.Target)
	now := e.now().UTC().Format(time.RFC3339)
	s.LastReportAt = &now
	if passed {
		s.ConsecutiveBreaches = 0
		s.TotalPass++
	} else {
		s.ConsecutiveBreaches++
		s.TotalBreaches++
	}
	if err := e.Repo.UpdateSLAEvaluationTx(ctx, tx, s); err != nil {
		return EvaluationOutcome{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeMetricReported, "sla", idStr(s.ID), actorID, events.EventPayload{
		"sla_id":   s.ID,
		"observed": observed,
		"success":  passed,
		"note":     note,
	}); err != nil {
		return EvaluationOutcome{}, err
	}

	outcome := EvaluationOutcome{SLA: s, Passed: passed}
	if !passed {
		a := domain.Alert{
			SLAID:     s.ID,
			Status:    domain.AlertOpen,
			Reason:    note,
			CreatedAt: now,
			UpdatedAt: now,
		}
		a.ID, err = e.Repo.InsertAlertTx(ctx, tx, a)
		if err != nil {
			return EvaluationOutcome{}, fmt.Errorf("insert alert: %w", err)
		}
		if err := e.Events.Append(ctx, tx, events.TypeSLAViolated, "alert", idStr(a.ID), actorID, events.EventPayload{
			"alert_id": a.ID,
			"sla_id":   s.ID,
			"reason":   a.Reason,
		}); err != nil {
			return EvaluationOutcome{}, err
		}
		outcome.Alert = &a
	}
	if err := tx.Commit(); err != nil {
		return EvaluationOutcome{}, err
	}
	return outcome, nil
}

// PauseSLA transitions an Active SLA to Paused.
func (e Engine) PauseSLA(ctx context.Context, slaID int64, reason, actorID string) (domain.SLA, error) {
	return e.setSLAStatus(ctx, slaID, domain.SLAActive, domain.SLAPaused, ErrSLANotActive, reason, actorID)
}

// ResumeSLA transitions a Paused SLA back to Active.
func (e Engine) ResumeSLA(ctx context.Context, slaID int64, reason, actorID string) (domain.SLA, error) {
	return e.setSLAStatus(ctx, slaID, domain.SLAPaused, domain.SLAActive, ErrSLANotPaused, reason, actorID)
}

func (e Engine) setSLAStatus(ctx context.Context, slaID int64, from, to domain.SLAStatus, precondErr error, reason, actorID string) (domain.SLA, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SLA{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSLATx(ctx, tx, slaID)
	if err != nil {
		return domain.SLA{}, err
	}
	if s.Status != from {
		return domain.SLA{}, fmt.Errorf("%w: sla %d is %s", precondErr, slaID, s.Status)
	}
	s.Status = to
	if err := e.Repo.UpdateSLAStatusTx(ctx, tx, slaID, to); err != nil {
		return domain.SLA{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeSLAStatusChanged, "sla", idStr(slaID), actorID, events.EventPayload{
		"sla_id":     slaID,
		"new_status": string(to),
	}); err != nil {
		return domain.SLA{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeNoveltyApplied, "sla", idStr(slaID), actorID, events.EventPayload{
		"sla_id": slaID,
		"field":  "status",
		"detail": reason,
	}); err != nil {
		return domain.SLA{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SLA{}, err
	}
	return s, nil
}

// UpdateSLATarget overwrites the SLA's target. No status precondition:
// novelties apply to paused SLAs too.
func (e Engine) UpdateSLATarget(ctx context.Context, slaID, newTarget int64, reason, actorID string) (domain.SLA, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SLA{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSLATx(ctx, tx, slaID)
	if err != nil {
		return domain.SLA{}, err
	}
	oldTarget := s.Target
	s.Target = newTarget
	if err := e.Repo.UpdateSLATargetTx(ctx, tx, slaID, newTarget); err != nil {
		return domain.SLA{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeNoveltyApplied, "sla", idStr(slaID), actorID, events.EventPayload{
		"sla_id":     slaID,
		"field":      "target",
		"detail":     reason,
		"old_target": oldTarget,
		"new_target": newTarget,
	}); err != nil {
		return domain.SLA{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SLA{}, err
	}
	return s, nil
}

// UpdateSLAParams overwrites the SLA's comparator and window size.
func (e Engine) UpdateSLAParams(ctx context.Context, slaID int64, newComparator domain.Comparator, newWindowSeconds int64, reason, actorID string) (domain.SLA, error) {
	if _, err := domain.ParseComparator(string(newComparator)); err != nil {
		return domain.SLA{}, err
	}
	if newWindowSeconds < 0 {
		return domain.SLA{}, errors.New("window_seconds must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SLA{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSLATx(ctx, tx, slaID)
	if err != nil {
		return domain.SLA{}, err
	}
	s.Comparator = newComparator
	s.WindowSeconds = newWindowSeconds
	if err := e.Repo.UpdateSLAParamsTx(ctx, tx, slaID, newComparator, newWindowSeconds); err != nil {
		return domain.SLA{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeNoveltyApplied, "sla", idStr(slaID), actorID, events.EventPayload{
		"sla_id":         slaID,
		"field":          "comparator|window",
		"detail":         reason,
		"comparator":     string(newComparator),
		"window_seconds": newWindowSeconds,
	}); err != nil {
		return domain.SLA{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SLA{}, err
	}
	return s, nil
}

// AcknowledgeAlert transitions an Open alert to Acknowledged.
func (e Engine) AcknowledgeAlert(ctx context.Context, alertID int64, actorID string) (domain.Alert, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAlertTx(ctx, tx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	if a.Status != domain.AlertOpen {
		return domain.Alert{}, fmt.Errorf("%w: alert %d is %s", ErrAlertNotOpen, alertID, a.Status)
	}
	a.Status = domain.AlertAcknowledged
	a.AcknowledgedBy = &actorID
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAlertTx(ctx, tx, a); err != nil {
		return domain.Alert{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeAlertAcknowledged, "alert", idStr(alertID), actorID, events.EventPayload{
		"alert_id": alertID,
		"actor":    actorID,
	}); err != nil {
		return domain.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}
	return a, nil
}

// ResolveAlert transitions an Open or Acknowledged alert to Resolved.
// Resolved is terminal; repeated calls fail the precondition.
func (e Engine) ResolveAlert(ctx context.Context, alertID int64, actorID, resolutionNote string) (domain.Alert, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAlertTx(ctx, tx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	if a.Status != domain.AlertOpen && a.Status != domain.AlertAcknowledged {
		return domain.Alert{}, fmt.Errorf("%w: alert %d is %s", ErrAlertNotResolvable, alertID, a.Status)
	}
	a.Status = domain.AlertResolved
	a.ResolvedBy = &actorID
	a.ResolutionNote = optionalString(resolutionNote)
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAlertTx(ctx, tx, a); err != nil {
		return domain.Alert{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeAlertResolved, "alert", idStr(alertID), actorID, events.EventPayload{
		"alert_id":        alertID,
		"actor":           actorID,
		"resolution_note": resolutionNote,
	}); err != nil {
		return domain.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}
	return a, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
