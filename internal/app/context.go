package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slaline/internal/config"
	"slaline/internal/repo"
)

// ResolveConfig loads the registry config for a workspace, preferring the
// slaline.yml file, then the persisted DB copy, then seeded defaults. The
// resolved config is written back to the DB so the registry survives a
// deleted config file, and role grants are synced from config to the RBAC
// tables.
func ResolveConfig(ctx context.Context, workspace, actorID string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg, err = r.GetRegistryConfig(ctx)
		if err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
			cfg = config.Default("default-registry")
		}
	}
	if err := seedRegistry(ctx, r, cfg, actorID); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedRegistry persists the config and syncs its roles in one transaction.
// The calling actor is granted admin on an empty registry so the first
// operator is never locked out.
func seedRegistry(ctx context.Context, r repo.Repo, cfg *config.Config, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.UpsertRegistryConfigTx(ctx, tx, cfg); err != nil {
		return fmt.Errorf("persist registry config: %w", err)
	}
	if err := r.SyncRoles(ctx, tx, cfg.RBAC.Roles); err != nil {
		return fmt.Errorf("sync roles: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	var actors int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM actor_roles`).Scan(&actors); err != nil {
		return err
	}
	if actors == 0 {
		if _, ok := cfg.RBAC.Roles["admin"]; ok {
			if err := r.AssignRole(ctx, tx, actorID, "admin"); err != nil {
				return fmt.Errorf("assign admin: %w", err)
			}
		}
	}
	return tx.Commit()
}
