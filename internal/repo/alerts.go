package repo

import (
	"context"
	"database/sql"
	"strings"

	"slaline/internal/domain"
)

func (r Repo) InsertAlertTx(ctx context.Context, tx *sql.Tx, a domain.Alert) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO alerts(sla_id,status,reason,created_at,updated_at) VALUES (?,?,?,?,?)`,
		a.SLAID, string(a.Status), nullable(a.Reason), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const alertCols = `id,sla_id,status,COALESCE(reason,''),acknowledged_by,resolved_by,resolution_note,created_at,updated_at`

func scanAlertRow(scan func(dest ...any) error) (domain.Alert, error) {
	var a domain.Alert
	var ackedBy, resolvedBy, note sql.NullString
	if err := scan(&a.ID, &a.SLAID, &a.Status, &a.Reason, &ackedBy, &resolvedBy, &note, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	if ackedBy.Valid {
		a.AcknowledgedBy = &ackedBy.String
	}
	if resolvedBy.Valid {
		a.ResolvedBy = &resolvedBy.String
	}
	if note.Valid {
		a.ResolutionNote = &note.String
	}
	return a, nil
}

func (r Repo) GetAlert(ctx context.Context, id int64) (domain.Alert, error) {
	a, err := scanAlertRow(r.DB.QueryRowContext(ctx, `SELECT `+alertCols+` FROM alerts WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) GetAlertTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Alert, error) {
	a, err := scanAlertRow(tx.QueryRowContext(ctx, `SELECT `+alertCols+` FROM alerts WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) UpdateAlertTx(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	res, err := tx.ExecContext(ctx, `UPDATE alerts SET status=?, acknowledged_by=?, resolved_by=?, resolution_note=?, updated_at=? WHERE id=?`,
		string(a.Status), nullableStringPtr(a.AcknowledgedBy), nullableStringPtr(a.ResolvedBy), nullableStringPtr(a.ResolutionNote), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type AlertFilters struct {
	SLAID  int64
	Status string
}

// ListAlerts returns the alert index in creation order.
func (r Repo) ListAlerts(ctx context.Context, f AlertFilters) ([]domain.Alert, error) {
	var clauses []string
	var args []any
	if f.SLAID > 0 {
		clauses = append(clauses, "sla_id=?")
		args = append(args, f.SLAID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+alertCols+` FROM alerts `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountAlertsBySLA(ctx context.Context, slaID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM alerts WHERE sla_id=?`, slaID).Scan(&n)
	return n, err
}
