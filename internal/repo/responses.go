package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"surveyflow/internal/domain"
)

type responseRow struct {
	ID                string         `db:"id"`
	SurveyID          int64          `db:"survey_id"`
	RespondentID      string         `db:"respondent_id"`
	CurrentQuestionID sql.NullInt64  `db:"current_question_id"`
	StartedAt         string         `db:"started_at"`
	UpdatedAt         string         `db:"updated_at"`
	CompletedAt       sql.NullString `db:"completed_at"`
}

func (r responseRow) toDomain() domain.Response {
	resp := domain.Response{
		ID:           r.ID,
		SurveyID:     r.SurveyID,
		RespondentID: r.RespondentID,
		StartedAt:    r.StartedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.CurrentQuestionID.Valid {
		v := r.CurrentQuestionID.Int64
		resp.CurrentQuestionID = &v
	}
	if r.CompletedAt.Valid {
		v := r.CompletedAt.String
		resp.CompletedAt = &v
	}
	return resp
}

const responseColumns = `id,survey_id,respondent_id,current_question_id,started_at,updated_at,completed_at`

func (r Repo) InsertResponse(ctx context.Context, q Queryer, resp domain.Response) error {
	_, err := exec(ctx, r.q(q), `INSERT INTO responses(`+responseColumns+`) VALUES (?,?,?,?,?,?,?)`,
		resp.ID, resp.SurveyID, resp.RespondentID, nullableID(resp.CurrentQuestionID), resp.StartedAt, resp.UpdatedAt, nullableString(resp.CompletedAt))
	return err
}

func (r Repo) GetResponse(ctx context.Context, q Queryer, id string) (domain.Response, error) {
	var row responseRow
	if err := get(ctx, r.q(q), &row, `SELECT `+responseColumns+` FROM responses WHERE id=?`, id); err != nil {
		return domain.Response{}, err
	}
	return row.toDomain(), nil
}

func (r Repo) ListResponses(ctx context.Context, q Queryer, surveyID int64) ([]domain.Response, error) {
	var rows []responseRow
	if err := selectAll(ctx, r.q(q), &rows, `SELECT `+responseColumns+` FROM responses WHERE survey_id=? ORDER BY started_at, id`, surveyID); err != nil {
		return nil, err
	}
	out := make([]domain.Response, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// AdvanceResponse moves the response to its next question, or completes it
// when next is nil. The expected current question guards concurrent answers.
func (r Repo) AdvanceResponse(ctx context.Context, q Queryer, id string, expectedCurrent int64, next *int64, now string) error {
	var completed any
	if next == nil {
		completed = now
	}
	return execOne(ctx, r.q(q), `UPDATE responses SET current_question_id=?, updated_at=?, completed_at=?
WHERE id=? AND current_question_id=? AND completed_at IS NULL`,
		nullableID(next), now, completed, id, expectedCurrent)
}

type answerRow struct {
	ResponseID     string        `db:"response_id"`
	QuestionID     int64         `db:"question_id"`
	OptionIDs      string        `db:"option_ids_json"`
	Value          string        `db:"value"`
	NextKind       string        `db:"next_kind"`
	NextQuestionID sql.NullInt64 `db:"next_question_id"`
	CreatedAt      string        `db:"created_at"`
}

func (r answerRow) toDomain() (domain.Answer, error) {
	next, err := determinantFromColumns(sql.NullString{String: r.NextKind, Valid: true}, r.NextQuestionID)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("answer to question %d: %w", r.QuestionID, err)
	}
	a := domain.Answer{
		ResponseID: r.ResponseID,
		QuestionID: r.QuestionID,
		Value:      r.Value,
		Next:       *next,
		CreatedAt:  r.CreatedAt,
	}
	if r.OptionIDs != "" {
		if err := json.Unmarshal([]byte(r.OptionIDs), &a.OptionIDs); err != nil {
			return domain.Answer{}, fmt.Errorf("decode option ids: %w", err)
		}
	}
	return a, nil
}

// InsertAnswer stores an answer with the determinant the resolver produced.
func (r Repo) InsertAnswer(ctx context.Context, q Queryer, a domain.Answer) error {
	kind, target, err := determinantColumns(&a.Next)
	if err != nil {
		return err
	}
	ids := a.OptionIDs
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode option ids: %w", err)
	}
	_, err = exec(ctx, r.q(q), `INSERT INTO answers(response_id,question_id,option_ids_json,value,next_kind,next_question_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ResponseID, a.QuestionID, string(data), a.Value, kind, target, a.CreatedAt)
	return err
}

func (r Repo) ListAnswers(ctx context.Context, q Queryer, responseID string) ([]domain.Answer, error) {
	var rows []answerRow
	if err := selectAll(ctx, r.q(q), &rows, `SELECT response_id,question_id,option_ids_json,value,next_kind,next_question_id,created_at
FROM answers WHERE response_id=? ORDER BY id`, responseID); err != nil {
		return nil, err
	}
	out := make([]domain.Answer, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
