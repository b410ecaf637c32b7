package repo

import (
	"context"
	"database/sql"

	"surveyflow/internal/domain"
)

type eventRow struct {
	ID         int64          `db:"id"`
	TS         string         `db:"ts"`
	Type       string         `db:"type"`
	SurveyID   sql.NullInt64  `db:"survey_id"`
	EntityKind string         `db:"entity_kind"`
	EntityID   sql.NullString `db:"entity_id"`
	ActorID    string         `db:"actor_id"`
	Payload    string         `db:"payload_json"`
}

func (r eventRow) toDomain() domain.Event {
	e := domain.Event{
		ID:         r.ID,
		TS:         r.TS,
		Type:       r.Type,
		EntityKind: r.EntityKind,
		EntityID:   r.EntityID.String,
		ActorID:    r.ActorID,
		Payload:    r.Payload,
	}
	if r.SurveyID.Valid {
		v := r.SurveyID.Int64
		e.SurveyID = &v
	}
	return e
}

const eventColumns = `id,ts,type,survey_id,entity_kind,entity_id,actor_id,payload_json`

// ListEvents returns the most recent events, newest first. surveyID 0 means all.
func (r Repo) ListEvents(ctx context.Context, limit int, surveyID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	args := []any{}
	if surveyID > 0 {
		query += ` WHERE survey_id=?`
		args = append(args, surveyID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.selectEvents(ctx, query, args...)
}

// EventsAfter returns events with id greater than after, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, after int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.selectEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id LIMIT ?`, after, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := get(ctx, r.DB, &id, `SELECT COALESCE(MAX(id),0) FROM events`)
	return id, err
}

func (r Repo) selectEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	var rows []eventRow
	if err := selectAll(ctx, r.DB, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
