package activity

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends rows to the sprint activity log. The log is append-only:
// nothing in this package updates or deletes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry is the writable part of an activity row.
type Entry struct {
	SprintID    string
	ActorID     string
	Action      string
	EntityType  string
	EntityID    string
	Description string
	Reason      string
}

// Append writes one entry inside the caller's transaction so that audit
// rows commit or roll back together with the mutation they describe.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO sprint_activity_log(sprint_id,actor_id,action,entity_type,entity_id,description,reason,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.SprintID, e.ActorID, e.Action, e.EntityType, nullable(e.EntityID), e.Description, nullable(e.Reason), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
