package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"surveyflow/internal/answer"
	"surveyflow/internal/domain"
	"surveyflow/internal/events"
	"surveyflow/internal/fault"
	"surveyflow/internal/flow"
)

// StartResponse opens a respondent session on an active survey, positioned at
// the first question by order index.
func (e Engine) StartResponse(ctx context.Context, surveyID int64, respondentID string) (domain.Response, error) {
	respondentID = strings.TrimSpace(respondentID)
	if respondentID == "" {
		return domain.Response{}, invalidInput("respondent_id is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Response{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.LoadSurvey(ctx, tx, surveyID)
	if err != nil {
		return domain.Response{}, err
	}
	if err := requireActive(s); err != nil {
		return domain.Response{}, err
	}
	first, ok := s.First()
	if !ok {
		return domain.Response{}, fault.Clientf(CodeSurveyNotActive, "survey %d has no questions", s.ID)
	}
	now := e.timestamp()
	resp := domain.Response{
		ID:                uuid.NewString(),
		SurveyID:          s.ID,
		RespondentID:      respondentID,
		CurrentQuestionID: &first.ID,
		StartedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertResponse(ctx, tx, resp); err != nil {
		return domain.Response{}, fmt.Errorf("insert response: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ResponseStarted, s.ID, "response", resp.ID, respondentID, events.EventPayload{
		"question_id": first.ID,
	}); err != nil {
		return domain.Response{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Response{}, err
	}
	return resp, nil
}

type AnswerOptions struct {
	ResponseID string
	QuestionID int64
	OptionIDs  []int64
	Value      string
	ActorID    string
}

type AnswerResult struct {
	Response domain.Response    `json:"response"`
	Answer   domain.Answer      `json:"answer"`
	Next     domain.Determinant `json:"next"`
	// NextQuestion is set when the survey continues.
	NextQuestion *domain.Question `json:"next_question,omitempty"`
}

// SubmitAnswer records the answer to the response's current question, resolves
// what follows and advances or completes the response.
func (e Engine) SubmitAnswer(ctx context.Context, opts AnswerOptions) (AnswerResult, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return AnswerResult{}, err
	}
	defer tx.Rollback()
	resp, err := e.Repo.GetResponse(ctx, tx, opts.ResponseID)
	if err != nil {
		return AnswerResult{}, err
	}
	if resp.Completed() {
		return AnswerResult{}, fault.Clientf(CodeResponseCompleted, "response %s is already completed", resp.ID)
	}
	if resp.CurrentQuestionID == nil || *resp.CurrentQuestionID != opts.QuestionID {
		return AnswerResult{}, notCurrent(resp, opts.QuestionID)
	}
	s, err := e.Repo.LoadSurvey(ctx, tx, resp.SurveyID)
	if err != nil {
		return AnswerResult{}, err
	}
	if err := requireActive(s); err != nil {
		return AnswerResult{}, err
	}
	q, ok := s.Question(opts.QuestionID)
	if !ok {
		return AnswerResult{}, fault.Clientf(CodeQuestionNotCurrent, "question %d no longer exists", opts.QuestionID)
	}
	next, err := flow.ResolveNext(s, q.ID, opts.OptionIDs)
	if err != nil {
		return AnswerResult{}, err
	}
	sub := answer.Submission{OptionIDs: opts.OptionIDs, Value: opts.Value}
	if err := answer.Check(q, sub, e.Config.Respondents.MaxAnswerLength); err != nil {
		return AnswerResult{}, err
	}

	now := e.timestamp()
	a := domain.Answer{
		ResponseID: resp.ID,
		QuestionID: q.ID,
		OptionIDs:  opts.OptionIDs,
		Value:      opts.Value,
		Next:       next,
		CreatedAt:  now,
	}
	if err := e.Repo.InsertAnswer(ctx, tx, a); err != nil {
		return AnswerResult{}, fmt.Errorf("insert answer: %w", err)
	}
	var nextID *int64
	var nextQuestion *domain.Question
	if id, ok := next.Target(); ok {
		nq, found := s.Question(id)
		if !found {
			return AnswerResult{}, configError(s.ID, q.ID, 0, flow.CodeCrossSurveyReference, "question %d is not part of survey %d", id, s.ID)
		}
		nextID = &id
		nextQuestion = &nq
	}
	if err := e.Repo.AdvanceResponse(ctx, tx, resp.ID, q.ID, nextID, now); err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return AnswerResult{}, notCurrent(resp, q.ID)
		}
		return AnswerResult{}, err
	}
	actor := opts.ActorID
	if actor == "" {
		actor = resp.RespondentID
	}
	if err := e.events().Append(ctx, tx, events.ResponseAnswered, s.ID, "response", resp.ID, actor, events.EventPayload{
		"question_id": q.ID,
		"option_ids":  opts.OptionIDs,
		"next":        next.String(),
	}); err != nil {
		return AnswerResult{}, err
	}
	resp.CurrentQuestionID = nextID
	resp.UpdatedAt = now
	if nextID == nil {
		resp.CompletedAt = &now
		if err := e.events().Append(ctx, tx, events.ResponseCompleted, s.ID, "response", resp.ID, actor, events.EventPayload{
			"last_question_id": q.ID,
		}); err != nil {
			return AnswerResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return AnswerResult{}, err
	}
	e.log().Debug("answer recorded", "response_id", resp.ID, "question_id", q.ID, "next", next.String())
	return AnswerResult{Response: resp, Answer: a, Next: next, NextQuestion: nextQuestion}, nil
}

func notCurrent(resp domain.Response, questionID int64) error {
	current := "none"
	if resp.CurrentQuestionID != nil {
		current = fmt.Sprint(*resp.CurrentQuestionID)
	}
	return fault.Clientf(CodeQuestionNotCurrent, "response %s is at question %s, not %d", resp.ID, current, questionID)
}

func (e Engine) GetResponse(ctx context.Context, id string) (domain.Response, error) {
	return e.Repo.GetResponse(ctx, nil, id)
}

func (e Engine) ListAnswers(ctx context.Context, responseID string) ([]domain.Answer, error) {
	if _, err := e.Repo.GetResponse(ctx, nil, responseID); err != nil {
		return nil, err
	}
	return e.Repo.ListAnswers(ctx, nil, responseID)
}

func (e Engine) ListResponses(ctx context.Context, surveyID int64) ([]domain.Response, error) {
	if _, err := e.Repo.GetSurvey(ctx, nil, surveyID); err != nil {
		return nil, err
	}
	return e.Repo.ListResponses(ctx, nil, surveyID)
}
