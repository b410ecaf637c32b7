package repo

import (
	"context"

	"surveyflow/internal/domain"
)

// NextQuestionPosition returns one past the highest position in the survey.
func (r Repo) NextQuestionPosition(ctx context.Context, q Queryer, surveyID int64) (int, error) {
	var pos int
	err := get(ctx, r.q(q), &pos, `SELECT COALESCE(MAX(position),0)+1 FROM questions WHERE survey_id=?`, surveyID)
	return pos, err
}

func (r Repo) InsertQuestion(ctx context.Context, q Queryer, question domain.Question) (int64, error) {
	kind, target, err := determinantColumns(question.Next)
	if err != nil {
		return 0, err
	}
	return insertID(ctx, r.q(q), `INSERT INTO questions(survey_id,position,type,text,constraint_expr,next_kind,next_question_id) VALUES (?,?,?,?,?,?,?)`,
		question.SurveyID, question.Position, string(question.Type), question.Text, nullable(question.Constraint), kind, target)
}

func (r Repo) GetQuestion(ctx context.Context, q Queryer, id int64) (domain.Question, error) {
	var row questionRow
	if err := get(ctx, r.q(q), &row, `SELECT id,survey_id,position,type,text,constraint_expr,next_kind,next_question_id FROM questions WHERE id=?`, id); err != nil {
		return domain.Question{}, err
	}
	return row.toDomain()
}

// SetQuestionNext stores the question-level default determinant; nil clears it.
func (r Repo) SetQuestionNext(ctx context.Context, q Queryer, questionID int64, next *domain.Determinant) error {
	kind, target, err := determinantColumns(next)
	if err != nil {
		return err
	}
	return execOne(ctx, r.q(q), `UPDATE questions SET next_kind=?, next_question_id=? WHERE id=?`, kind, target, questionID)
}

func (r Repo) UpdateQuestionConstraint(ctx context.Context, q Queryer, questionID int64, expr string) error {
	return execOne(ctx, r.q(q), `UPDATE questions SET constraint_expr=? WHERE id=?`, nullable(expr), questionID)
}

func (r Repo) DeleteQuestion(ctx context.Context, q Queryer, id int64) error {
	return execOne(ctx, r.q(q), `DELETE FROM questions WHERE id=?`, id)
}

// QuestionReferences lists the questions and options of a survey whose
// determinant continues to questionID.
func (r Repo) QuestionReferences(ctx context.Context, q Queryer, questionID int64) ([]int64, error) {
	var ids []int64
	err := selectAll(ctx, r.q(q), &ids, `SELECT id FROM questions WHERE next_question_id=?
UNION SELECT question_id FROM options WHERE next_question_id=? ORDER BY 1`, questionID, questionID)
	return ids, err
}

func (r Repo) NextOptionPosition(ctx context.Context, q Queryer, questionID int64) (int, error) {
	var pos int
	err := get(ctx, r.q(q), &pos, `SELECT COALESCE(MAX(position),0)+1 FROM options WHERE question_id=?`, questionID)
	return pos, err
}

// InsertOption needs the owning survey id for the composite foreign keys.
func (r Repo) InsertOption(ctx context.Context, q Queryer, surveyID int64, o domain.Option) (int64, error) {
	kind, target, err := determinantColumns(o.Next)
	if err != nil {
		return 0, err
	}
	return insertID(ctx, r.q(q), `INSERT INTO options(survey_id,question_id,position,text,next_kind,next_question_id) VALUES (?,?,?,?,?,?)`,
		surveyID, o.QuestionID, o.Position, o.Text, kind, target)
}

func (r Repo) GetOption(ctx context.Context, q Queryer, id int64) (domain.Option, int64, error) {
	var row optionRow
	if err := get(ctx, r.q(q), &row, `SELECT id,survey_id,question_id,position,text,next_kind,next_question_id FROM options WHERE id=?`, id); err != nil {
		return domain.Option{}, 0, err
	}
	o, err := row.toDomain()
	return o, row.SurveyID, err
}

// SetOptionNext stores an option's own determinant; nil clears it.
func (r Repo) SetOptionNext(ctx context.Context, q Queryer, optionID int64, next *domain.Determinant) error {
	kind, target, err := determinantColumns(next)
	if err != nil {
		return err
	}
	return execOne(ctx, r.q(q), `UPDATE options SET next_kind=?, next_question_id=? WHERE id=?`, kind, target, optionID)
}

func (r Repo) DeleteOption(ctx context.Context, q Queryer, id int64) error {
	return execOne(ctx, r.q(q), `DELETE FROM options WHERE id=?`, id)
}
