package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"slaline/internal/config"
	"slaline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- clients ---

func (r Repo) InsertClientTx(ctx context.Context, tx *sql.Tx, c domain.Client) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO clients(name,owner_ref,active,created_at) VALUES (?,?,?,?)`,
		c.Name, nullable(c.OwnerRef), c.Active, c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const clientCols = `id,name,COALESCE(owner_ref,''),active,created_at`

func scanClient(row *sql.Row) (domain.Client, error) {
	var c domain.Client
	err := row.Scan(&c.ID, &c.Name, &c.OwnerRef, &c.Active, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	return scanClient(r.DB.QueryRowContext(ctx, `SELECT `+clientCols+` FROM clients WHERE id=?`, id))
}

func (r Repo) GetClientTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Client, error) {
	return scanClient(tx.QueryRowContext(ctx, `SELECT `+clientCols+` FROM clients WHERE id=?`, id))
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+clientCols+` FROM clients ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.OwnerRef, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- contracts ---

func (r Repo) InsertContractTx(ctx context.Context, tx *sql.Tx, c domain.Contract) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO contracts(client_id,external_id,document_ref,active,start_at,end_at,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ClientID, nullable(c.ExternalID), nullable(c.DocumentRef), c.Active, nullableStringPtr(c.StartAt), nullableStringPtr(c.EndAt), c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const contractCols = `id,client_id,COALESCE(external_id,''),COALESCE(document_ref,''),active,start_at,end_at,created_at`

func scanContractRow(scan func(dest ...any) error) (domain.Contract, error) {
	var c domain.Contract
	var startAt, endAt sql.NullString
	if err := scan(&c.ID, &c.ClientID, &c.ExternalID, &c.DocumentRef, &c.Active, &startAt, &endAt, &c.CreatedAt); err != nil {
		return c, err
	}
	if startAt.Valid {
		c.StartAt = &startAt.String
	}
	if endAt.Valid {
		c.EndAt = &endAt.String
	}
	return c, nil
}

func (r Repo) GetContract(ctx context.Context, id int64) (domain.Contract, error) {
	c, err := scanContractRow(r.DB.QueryRowContext(ctx, `SELECT `+contractCols+` FROM contracts WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetContractTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Contract, error) {
	c, err := scanContractRow(tx.QueryRowContext(ctx, `SELECT `+contractCols+` FROM contracts WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ListContractsByClient returns the client's contract index: child rows in
// creation order, never reordered or pruned.
func (r Repo) ListContractsByClient(ctx context.Context, clientID int64) ([]domain.Contract, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contractCols+` FROM contracts WHERE client_id=? ORDER BY id ASC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContractRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateContractDocumentTx(ctx context.Context, tx *sql.Tx, id int64, documentRef string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contracts SET document_ref=? WHERE id=?`, nullable(documentRef), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- slas ---

func (r Repo) InsertSLATx(ctx context.Context, tx *sql.Tx, s domain.SLA) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO slas(contract_id,name,description,target,comparator,status,window_seconds,last_report_at,consecutive_breaches,total_breaches,total_pass,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ContractID, s.Name, nullable(s.Description), s.Target, string(s.Comparator), string(s.Status), s.WindowSeconds,
		nullableStringPtr(s.LastReportAt), s.ConsecutiveBreaches, s.TotalBreaches, s.TotalPass, s.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const slaCols = `id,contract_id,name,COALESCE(description,''),target,comparator,status,window_seconds,last_report_at,consecutive_breaches,total_breaches,total_pass,created_at`

func scanSLARow(scan func(dest ...any) error) (domain.SLA, error) {
	var s domain.SLA
	var lastReport sql.NullString
	if err := scan(&s.ID, &s.ContractID, &s.Name, &s.Description, &s.Target, &s.Comparator, &s.Status,
		&s.WindowSeconds, &lastReport, &s.ConsecutiveBreaches, &s.TotalBreaches, &s.TotalPass, &s.CreatedAt); err != nil {
		return s, err
	}
	if lastReport.Valid {
		s.LastReportAt = &lastReport.String
	}
	return s, nil
}

func (r Repo) GetSLA(ctx context.Context, id int64) (domain.SLA, error) {
	s, err := scanSLARow(r.DB.QueryRowContext(ctx, `SELECT `+slaCols+` FROM slas WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSLATx(ctx context.Context, tx *sql.Tx, id int64) (domain.SLA, error) {
	s, err := scanSLARow(tx.QueryRowContext(ctx, `SELECT `+slaCols+` FROM slas WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

type SLAFilters struct {
	ContractID int64
	Status     string
}

func (r Repo) ListSLAs(ctx context.Context, f SLAFilters) ([]domain.SLA, error) {
	var clauses []string
	var args []any
	if f.ContractID > 0 {
		clauses = append(clauses, "contract_id=?")
		args = append(args, f.ContractID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slaCols+` FROM slas `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SLA
	for rows.Next() {
		s, err := scanSLARow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSLAEvaluationTx persists the counter state after one evaluation.
func (r Repo) UpdateSLAEvaluationTx(ctx context.Context, tx *sql.Tx, s domain.SLA) error {
	_, err := tx.ExecContext(ctx, `UPDATE slas SET last_report_at=?, consecutive_breaches=?, total_breaches=?, total_pass=? WHERE id=?`,
		nullableStringPtr(s.LastReportAt), s.ConsecutiveBreaches, s.TotalBreaches, s.TotalPass, s.ID)
	return err
}

func (r Repo) UpdateSLAStatusTx(ctx context.Context, tx *sql.Tx, id int64, status domain.SLAStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE slas SET status=? WHERE id=?`, string(status), id)
	return err
}

func (r Repo) UpdateSLATargetTx(ctx context.Context, tx *sql.Tx, id, target int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE slas SET target=? WHERE id=?`, target, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateSLAParamsTx(ctx context.Context, tx *sql.Tx, id int64, comparator domain.Comparator, windowSeconds int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE slas SET comparator=?, window_seconds=? WHERE id=?`, string(comparator), windowSeconds, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- registry config ---

func (r Repo) UpsertRegistryConfig(ctx context.Context, cfg *config.Config) error {
	return upsertRegistryConfig(ctx, r.DB, nil, cfg)
}

func (r Repo) UpsertRegistryConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	return upsertRegistryConfig(ctx, nil, tx, cfg)
}

func upsertRegistryConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO registry_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetRegistryConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM registry_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// --- status summary ---

func (r Repo) CountSLAsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM slas GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) CountAlertsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM alerts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) CountClients(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM clients`).Scan(&n)
	return n, err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
