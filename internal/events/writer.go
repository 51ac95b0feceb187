package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Signal types emitted by the engine. External subscribers (webhooks,
// notification dispatch) filter on these.
const (
	TypeClientRegistered  = "client.registered"
	TypeContractCreated   = "contract.created"
	TypeContractUpdated   = "contract.updated"
	TypeSLACreated        = "sla.created"
	TypeMetricReported    = "metric.reported"
	TypeSLAViolated       = "sla.violated"
	TypeSLAStatusChanged  = "sla.status_changed"
	TypeNoveltyApplied    = "novelty.applied"
	TypeAlertAcknowledged = "alert.acknowledged"
	TypeAlertResolved     = "alert.resolved"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes a signal row inside the caller's transaction so the signal
// commits atomically with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
