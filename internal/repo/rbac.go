package repo

import (
	"context"
	"database/sql"

	"slaline/internal/config"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) AddRoleCapability(ctx context.Context, tx *sql.Tx, roleID, capability string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_capabilities(role_id, capability) VALUES (?,?)`, roleID, capability)
	return err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	return err
}

// SyncRoles replaces the role/capability tables with the config's role set.
// Actor role assignments are left untouched.
func (r Repo) SyncRoles(ctx context.Context, tx *sql.Tx, roles map[string]config.RBACRole) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_capabilities`); err != nil {
		return err
	}
	for id, role := range roles {
		if err := r.InsertRole(ctx, tx, id, role.Description); err != nil {
			return err
		}
		for _, cap := range role.Capabilities {
			if err := r.AddRoleCapability(ctx, tx, id, cap); err != nil {
				return err
			}
		}
	}
	return nil
}
