package repo

import (
	"context"
	"database/sql"
	"fmt"

	"surveyflow/internal/domain"
	"surveyflow/internal/fault"
)

type surveyRow struct {
	ID        int64  `db:"id"`
	Title     string `db:"title"`
	Status    string `db:"status"`
	Version   int64  `db:"version"`
	CreatedBy string `db:"created_by"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r surveyRow) toDomain() domain.Survey {
	return domain.Survey{
		ID:        r.ID,
		Title:     r.Title,
		Status:    domain.SurveyStatus(r.Status),
		Version:   r.Version,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type questionRow struct {
	ID             int64          `db:"id"`
	SurveyID       int64          `db:"survey_id"`
	Position       int            `db:"position"`
	Type           string         `db:"type"`
	Text           string         `db:"text"`
	Constraint     sql.NullString `db:"constraint_expr"`
	NextKind       sql.NullString `db:"next_kind"`
	NextQuestionID sql.NullInt64  `db:"next_question_id"`
}

func (r questionRow) toDomain() (domain.Question, error) {
	next, err := determinantFromColumns(r.NextKind, r.NextQuestionID)
	if err != nil {
		return domain.Question{}, fmt.Errorf("question %d: %w", r.ID, err)
	}
	return domain.Question{
		ID:         r.ID,
		SurveyID:   r.SurveyID,
		Position:   r.Position,
		Type:       domain.QuestionType(r.Type),
		Text:       r.Text,
		Constraint: r.Constraint.String,
		Next:       next,
	}, nil
}

type optionRow struct {
	ID             int64          `db:"id"`
	SurveyID       int64          `db:"survey_id"`
	QuestionID     int64          `db:"question_id"`
	Position       int            `db:"position"`
	Text           string         `db:"text"`
	NextKind       sql.NullString `db:"next_kind"`
	NextQuestionID sql.NullInt64  `db:"next_question_id"`
}

func (r optionRow) toDomain() (domain.Option, error) {
	next, err := determinantFromColumns(r.NextKind, r.NextQuestionID)
	if err != nil {
		return domain.Option{}, fmt.Errorf("option %d: %w", r.ID, err)
	}
	return domain.Option{
		ID:         r.ID,
		QuestionID: r.QuestionID,
		Position:   r.Position,
		Text:       r.Text,
		Next:       next,
	}, nil
}

const surveyColumns = `id,title,status,version,created_by,created_at,updated_at`

func (r Repo) InsertSurvey(ctx context.Context, q Queryer, s domain.Survey) (int64, error) {
	if s.Version == 0 {
		s.Version = 1
	}
	return insertID(ctx, r.q(q), `INSERT INTO surveys(title,status,version,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.Title, string(s.Status), s.Version, s.CreatedBy, s.CreatedAt, s.UpdatedAt)
}

// GetSurvey returns the survey row without questions.
func (r Repo) GetSurvey(ctx context.Context, q Queryer, id int64) (domain.Survey, error) {
	var row surveyRow
	if err := get(ctx, r.q(q), &row, `SELECT `+surveyColumns+` FROM surveys WHERE id=?`, id); err != nil {
		return domain.Survey{}, err
	}
	return row.toDomain(), nil
}

// ListSurveys returns surveys, optionally filtered by status, newest first.
func (r Repo) ListSurveys(ctx context.Context, q Queryer, status domain.SurveyStatus) ([]domain.Survey, error) {
	query := `SELECT ` + surveyColumns + ` FROM surveys`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC`
	var rows []surveyRow
	if err := selectAll(ctx, r.q(q), &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]domain.Survey, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// LoadSurvey reads a survey with its questions and options. Run it inside the
// caller's transaction to get one consistent snapshot.
func (r Repo) LoadSurvey(ctx context.Context, q Queryer, id int64) (domain.Survey, error) {
	q = r.q(q)
	s, err := r.GetSurvey(ctx, q, id)
	if err != nil {
		return domain.Survey{}, err
	}
	var qrows []questionRow
	if err := selectAll(ctx, q, &qrows, `SELECT id,survey_id,position,type,text,constraint_expr,next_kind,next_question_id
FROM questions WHERE survey_id=? ORDER BY position, id`, id); err != nil {
		return domain.Survey{}, err
	}
	var orows []optionRow
	if err := selectAll(ctx, q, &orows, `SELECT id,survey_id,question_id,position,text,next_kind,next_question_id
FROM options WHERE survey_id=? ORDER BY question_id, position, id`, id); err != nil {
		return domain.Survey{}, err
	}
	byQuestion := make(map[int64][]domain.Option, len(qrows))
	for _, row := range orows {
		o, err := row.toDomain()
		if err != nil {
			return domain.Survey{}, err
		}
		byQuestion[o.QuestionID] = append(byQuestion[o.QuestionID], o)
	}
	s.Questions = make([]domain.Question, 0, len(qrows))
	for _, row := range qrows {
		question, err := row.toDomain()
		if err != nil {
			return domain.Survey{}, err
		}
		question.Options = byQuestion[question.ID]
		s.Questions = append(s.Questions, question)
	}
	return s, nil
}

// TouchSurvey bumps the survey version. A non-zero expected version must match
// the stored one, otherwise fault.ErrStaleVersion is returned.
func (r Repo) TouchSurvey(ctx context.Context, q Queryer, id, expected int64, now string) (int64, error) {
	q = r.q(q)
	query := `UPDATE surveys SET version=version+1, updated_at=? WHERE id=?`
	args := []any{now, id}
	if expected > 0 {
		query += ` AND version=?`
		args = append(args, expected)
	}
	res, err := exec(ctx, q, query, args...)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetSurvey(ctx, q, id); err != nil {
			return 0, err
		}
		return 0, fault.ErrStaleVersion
	}
	var version int64
	if err := get(ctx, q, &version, `SELECT version FROM surveys WHERE id=?`, id); err != nil {
		return 0, err
	}
	return version, nil
}

func (r Repo) UpdateSurveyStatus(ctx context.Context, q Queryer, id int64, status domain.SurveyStatus, now string) error {
	return execOne(ctx, r.q(q), `UPDATE surveys SET status=?, updated_at=? WHERE id=?`, string(status), now, id)
}

func (r Repo) DeleteSurvey(ctx context.Context, q Queryer, id int64) error {
	return execOne(ctx, r.q(q), `DELETE FROM surveys WHERE id=?`, id)
}
