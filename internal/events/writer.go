package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event types appended by the engine.
const (
	SurveyCreated     = "survey.created"
	SurveyDeleted     = "survey.deleted"
	SurveyImported    = "survey.imported"
	SurveyActivated   = "survey.activated"
	SurveyDeactivated = "survey.deactivated"
	SurveyClosed      = "survey.closed"
	QuestionAdded     = "question.added"
	QuestionRemoved   = "question.removed"
	OptionAdded       = "option.added"
	OptionRemoved     = "option.removed"
	FlowConfigured    = "flow.configured"
	ResponseStarted   = "response.started"
	ResponseAnswered  = "response.answered"
	ResponseCompleted = "response.completed"
	APIKeyCreated     = "api_key.created"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside tx. surveyID 0 stores no survey reference.
func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, evtType string, surveyID int64, entityKind, entityID, actorID string, payload EventPayload) error {
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
	var survey any
	if surveyID > 0 {
		survey = surveyID
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO events(ts,type,survey_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, survey, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
