package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"surveyflow/internal/answer"
	"surveyflow/internal/domain"
	"surveyflow/internal/events"
	"surveyflow/internal/fault"
)

type SurveyCreateOptions struct {
	Title   string
	ActorID string
}

func (e Engine) CreateSurvey(ctx context.Context, opts SurveyCreateOptions) (domain.Survey, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Survey{}, invalidInput("title is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Survey{}, err
	}
	defer tx.Rollback()

	now := e.timestamp()
	s := domain.Survey{
		Title:     title,
		Status:    domain.SurveyDraft,
		Version:   1,
		CreatedBy: opts.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := e.Repo.InsertSurvey(ctx, tx, s)
	if err != nil {
		return domain.Survey{}, fmt.Errorf("insert survey: %w", err)
	}
	s.ID = id
	if err := e.events().Append(ctx, tx, events.SurveyCreated, id, "survey", fmt.Sprint(id), opts.ActorID, events.EventPayload{"title": title}); err != nil {
		return domain.Survey{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Survey{}, err
	}
	e.log().Info("survey created", "survey_id", id, "actor_id", opts.ActorID)
	return s, nil
}

func (e Engine) ListSurveys(ctx context.Context, status domain.SurveyStatus) ([]domain.Survey, error) {
	if status != "" {
		switch status {
		case domain.SurveyDraft, domain.SurveyActive, domain.SurveyClosed:
		default:
			return nil, invalidInput("invalid status %q", status)
		}
	}
	return e.Repo.ListSurveys(ctx, nil, status)
}

// GetSurvey returns the survey with its questions and options.
func (e Engine) GetSurvey(ctx context.Context, id int64) (domain.Survey, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Survey{}, err
	}
	defer tx.Rollback()
	return e.Repo.LoadSurvey(ctx, tx, id)
}

// DeleteSurvey removes a survey with everything it owns. Active surveys must be
// deactivated or closed first.
func (e Engine) DeleteSurvey(ctx context.Context, id int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSurvey(ctx, tx, id)
	if err != nil {
		return err
	}
	if s.Status == domain.SurveyActive {
		return fault.Clientf(CodeInvalidTransition, "survey %d is active; deactivate or close it first", id)
	}
	if err := e.Repo.DeleteSurvey(ctx, tx, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.SurveyDeleted, id, "survey", fmt.Sprint(id), actorID, events.EventPayload{"title": s.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

type QuestionAddOptions struct {
	SurveyID        int64
	ExpectedVersion int64
	Type            domain.QuestionType
	Text            string
	Constraint      string
	// Position 0 appends after the last question.
	Position int
	Options  []string
	ActorID  string
}

func (e Engine) AddQuestion(ctx context.Context, opts QuestionAddOptions) (domain.Question, error) {
	if _, err := domain.ParseQuestionType(string(opts.Type)); err != nil {
		return domain.Question{}, invalidInput("%v", err)
	}
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return domain.Question{}, invalidInput("text is required")
	}
	if opts.Position < 0 {
		return domain.Question{}, invalidInput("position must not be negative")
	}
	if len(opts.Options) > 0 && !opts.Type.HasOptions() {
		return domain.Question{}, invalidInput("%s questions take no options", opts.Type)
	}
	if strings.TrimSpace(opts.Constraint) != "" {
		if _, err := answer.Compile(opts.Constraint); err != nil {
			return domain.Question{}, err
		}
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Question{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSurvey(ctx, tx, opts.SurveyID)
	if err != nil {
		return domain.Question{}, err
	}
	if err := requireDraft(s); err != nil {
		return domain.Question{}, err
	}
	if _, err := e.bump(ctx, tx, s.ID, opts.ExpectedVersion); err != nil {
		return domain.Question{}, err
	}
	q := domain.Question{
		SurveyID:   s.ID,
		Position:   opts.Position,
		Type:       opts.Type,
		Text:       text,
		Constraint: strings.TrimSpace(opts.Constraint),
	}
	if q.Position == 0 {
		if q.Position, err = e.Repo.NextQuestionPosition(ctx, tx, s.ID); err != nil {
			return domain.Question{}, err
		}
	}
	if q.ID, err = e.Repo.InsertQuestion(ctx, tx, q); err != nil {
		return domain.Question{}, fmt.Errorf("insert question: %w", err)
	}
	for i, optText := range opts.Options {
		optText = strings.TrimSpace(optText)
		if optText == "" {
			return domain.Question{}, invalidInput("option %d text is required", i+1)
		}
		o := domain.Option{QuestionID: q.ID, Position: i + 1, Text: optText}
		if o.ID, err = e.Repo.InsertOption(ctx, tx, s.ID, o); err != nil {
			return domain.Question{}, fmt.Errorf("insert option: %w", err)
		}
		q.Options = append(q.Options, o)
	}
	if err := e.events().Append(ctx, tx, events.QuestionAdded, s.ID, "question", fmt.Sprint(q.ID), opts.ActorID, events.EventPayload{
		"type":     string(q.Type),
		"position": q.Position,
		"options":  len(q.Options),
	}); err != nil {
		return domain.Question{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

// DeleteQuestion removes a question and its options. A question that another
// determinant continues to cannot be removed until that determinant changes.
func (e Engine) DeleteQuestion(ctx context.Context, questionID, expectedVersion int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q, err := e.Repo.GetQuestion(ctx, tx, questionID)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetSurvey(ctx, tx, q.SurveyID)
	if err != nil {
		return err
	}
	if err := requireDraft(s); err != nil {
		return err
	}
	refs, err := e.Repo.QuestionReferences(ctx, tx, questionID)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return fault.Clientf(CodeQuestionInUse, "question %d is the target of questions %v", questionID, refs)
	}
	if _, err := e.bump(ctx, tx, s.ID, expectedVersion); err != nil {
		return err
	}
	if err := e.Repo.DeleteQuestion(ctx, tx, questionID); err != nil {
		if errors.Is(err, fault.ErrForeignKeyViolation) {
			return fault.NewClientError(CodeQuestionInUse, fmt.Sprintf("question %d has recorded answers", questionID), err)
		}
		return err
	}
	if err := e.events().Append(ctx, tx, events.QuestionRemoved, s.ID, "question", fmt.Sprint(questionID), actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

type OptionAddOptions struct {
	QuestionID      int64
	ExpectedVersion int64
	Text            string
	Position        int
	ActorID         string
}

func (e Engine) AddOption(ctx context.Context, opts OptionAddOptions) (domain.Option, error) {
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return domain.Option{}, invalidInput("text is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Option{}, err
	}
	defer tx.Rollback()
	q, err := e.Repo.GetQuestion(ctx, tx, opts.QuestionID)
	if err != nil {
		return domain.Option{}, err
	}
	if !q.Type.HasOptions() {
		return domain.Option{}, invalidInput("%s questions take no options", q.Type)
	}
	s, err := e.Repo.GetSurvey(ctx, tx, q.SurveyID)
	if err != nil {
		return domain.Option{}, err
	}
	if err := requireDraft(s); err != nil {
		return domain.Option{}, err
	}
	if _, err := e.bump(ctx, tx, s.ID, opts.ExpectedVersion); err != nil {
		return domain.Option{}, err
	}
	o := domain.Option{QuestionID: q.ID, Position: opts.Position, Text: text}
	if o.Position <= 0 {
		if o.Position, err = e.Repo.NextOptionPosition(ctx, tx, q.ID); err != nil {
			return domain.Option{}, err
		}
	}
	if o.ID, err = e.Repo.InsertOption(ctx, tx, s.ID, o); err != nil {
		return domain.Option{}, fmt.Errorf("insert option: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.OptionAdded, s.ID, "option", fmt.Sprint(o.ID), opts.ActorID, events.EventPayload{"question_id": q.ID}); err != nil {
		return domain.Option{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Option{}, err
	}
	return o, nil
}

func (e Engine) DeleteOption(ctx context.Context, optionID, expectedVersion int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	o, surveyID, err := e.Repo.GetOption(ctx, tx, optionID)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetSurvey(ctx, tx, surveyID)
	if err != nil {
		return err
	}
	if err := requireDraft(s); err != nil {
		return err
	}
	if _, err := e.bump(ctx, tx, s.ID, expectedVersion); err != nil {
		return err
	}
	if err := e.Repo.DeleteOption(ctx, tx, optionID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.OptionRemoved, s.ID, "option", fmt.Sprint(optionID), actorID, events.EventPayload{"question_id": o.QuestionID}); err != nil {
		return err
	}
	return tx.Commit()
}
