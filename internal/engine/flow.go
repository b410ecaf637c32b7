package engine

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"surveyflow/internal/domain"
	"surveyflow/internal/events"
	"surveyflow/internal/fault"
	"surveyflow/internal/flow"
)

// FlowUpdate changes the determinants of one question. Fields left unset keep
// their stored value.
type FlowUpdate struct {
	SurveyID        int64
	QuestionID      int64
	ExpectedVersion int64
	// SetDefault replaces the question-level determinant with Default; a nil
	// Default clears it.
	SetDefault bool
	Default    *domain.Determinant
	// Options maps option ids to their new determinant; nil clears it.
	Options map[int64]*domain.Determinant
	ActorID string
}

type FlowConfigResult struct {
	SurveyID int64       `json:"survey_id"`
	Version  int64       `json:"version"`
	Report   flow.Result `json:"report"`
}

// ConfigureFlow writes determinants atomically and revalidates the survey. Writes
// that would make an active survey invalid are rolled back and the flow error is
// returned; on a draft the write commits and the report shows what is wrong.
func (e Engine) ConfigureFlow(ctx context.Context, u FlowUpdate) (FlowConfigResult, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return FlowConfigResult{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.LoadSurvey(ctx, tx, u.SurveyID)
	if err != nil {
		return FlowConfigResult{}, err
	}
	if s.Status == domain.SurveyClosed {
		return FlowConfigResult{}, fault.Clientf(CodeInvalidTransition, "survey %d is closed", s.ID)
	}
	q, err := e.questionOf(ctx, tx, s, u.QuestionID)
	if err != nil {
		return FlowConfigResult{}, err
	}
	if u.SetDefault && u.Default != nil {
		if err := checkDeterminant(s, q, 0, *u.Default); err != nil {
			return FlowConfigResult{}, err
		}
	}
	for optionID, d := range u.Options {
		if _, ok := q.Option(optionID); !ok {
			return FlowConfigResult{}, configError(s.ID, q.ID, optionID, flow.CodeOptionNotInQuestion,
				"option %d does not belong to question %d", optionID, q.ID)
		}
		if d == nil {
			continue
		}
		if !q.Branches() {
			return FlowConfigResult{}, configError(s.ID, q.ID, optionID, flow.CodeOptionNotBranching,
				"options of %s question %d cannot carry a determinant", q.Type, q.ID)
		}
		if err := checkDeterminant(s, q, optionID, *d); err != nil {
			return FlowConfigResult{}, err
		}
	}

	version, err := e.bump(ctx, tx, s.ID, u.ExpectedVersion)
	if err != nil {
		return FlowConfigResult{}, err
	}
	if u.SetDefault {
		if err := e.Repo.SetQuestionNext(ctx, tx, q.ID, u.Default); err != nil {
			return FlowConfigResult{}, fmt.Errorf("set question determinant: %w", err)
		}
	}
	for optionID, d := range u.Options {
		if err := e.Repo.SetOptionNext(ctx, tx, optionID, d); err != nil {
			return FlowConfigResult{}, fmt.Errorf("set option determinant: %w", err)
		}
	}

	updated, err := e.Repo.LoadSurvey(ctx, tx, s.ID)
	if err != nil {
		return FlowConfigResult{}, err
	}
	report, err := flow.ValidateSurvey(updated)
	if err != nil {
		return FlowConfigResult{}, err
	}
	if s.Status == domain.SurveyActive && !report.Valid {
		e.log().Warn("flow change rejected on active survey", "survey_id", s.ID, "question_id", q.ID, "reason", report.Reason)
		return FlowConfigResult{}, report.Err(s.ID)
	}
	payload := events.EventPayload{
		"question_id": q.ID,
		"valid":       report.Valid,
		"version":     version,
	}
	if u.SetDefault {
		payload["default"] = determinantValue(u.Default)
	}
	if len(u.Options) > 0 {
		opts := make(map[string]any, len(u.Options))
		for id, d := range u.Options {
			opts[fmt.Sprint(id)] = determinantValue(d)
		}
		payload["options"] = opts
	}
	if !report.Valid {
		payload["reason"] = string(report.Reason)
	}
	if err := e.events().Append(ctx, tx, events.FlowConfigured, s.ID, "question", fmt.Sprint(q.ID), u.ActorID, payload); err != nil {
		return FlowConfigResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return FlowConfigResult{}, err
	}
	return FlowConfigResult{SurveyID: s.ID, Version: version, Report: report}, nil
}

// questionOf finds questionID in s. A question stored under another survey is a
// cross-survey reference rather than a missing row.
func (e Engine) questionOf(ctx context.Context, tx *sqlx.Tx, s domain.Survey, questionID int64) (domain.Question, error) {
	if q, ok := s.Question(questionID); ok {
		return q, nil
	}
	other, err := e.Repo.GetQuestion(ctx, tx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	return domain.Question{}, configError(s.ID, questionID, 0, flow.CodeCrossSurveyReference,
		"question %d belongs to survey %d, not %d", questionID, other.SurveyID, s.ID)
}

// checkDeterminant rejects what can be decided from one write alone: malformed
// values, self references and targets outside the survey.
func checkDeterminant(s domain.Survey, q domain.Question, optionID int64, d domain.Determinant) error {
	if !d.Valid() {
		return configError(s.ID, q.ID, optionID, flow.CodeInvalidDeterminant, "determinant for question %d is malformed", q.ID)
	}
	target, ok := d.Target()
	if !ok {
		return nil
	}
	if target == q.ID {
		err := configError(s.ID, q.ID, optionID, flow.CodeSelfReference, "question %d cannot continue to itself", q.ID)
		err.CyclePath = []int64{q.ID, q.ID}
		return err
	}
	if _, found := s.Question(target); !found {
		return configError(s.ID, q.ID, optionID, flow.CodeCrossSurveyReference,
			"question %d is not part of survey %d", target, s.ID)
	}
	return nil
}

func configError(surveyID, questionID, optionID int64, code flow.Code, format string, args ...any) *flow.Error {
	return &flow.Error{
		Kind:       flow.KindConfiguration,
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		SurveyID:   surveyID,
		QuestionID: questionID,
		OptionID:   optionID,
	}
}

func determinantValue(d *domain.Determinant) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// ValidateFlow runs the flow validator on a fresh snapshot.
func (e Engine) ValidateFlow(ctx context.Context, surveyID int64) (flow.Result, error) {
	s, err := e.GetSurvey(ctx, surveyID)
	if err != nil {
		return flow.Result{}, err
	}
	return flow.ValidateSurvey(s)
}

type FlowGraphReport struct {
	SurveyID int64           `json:"survey_id"`
	Version  int64           `json:"version"`
	Status   string          `json:"status"`
	Nodes    []flow.NodeView `json:"nodes"`
	Report   flow.Result     `json:"report"`
}

// FlowGraph returns the derived flow graph together with its validation report.
func (e Engine) FlowGraph(ctx context.Context, surveyID int64) (FlowGraphReport, error) {
	s, err := e.GetSurvey(ctx, surveyID)
	if err != nil {
		return FlowGraphReport{}, err
	}
	g, err := flow.Build(s)
	if err != nil {
		return FlowGraphReport{}, err
	}
	return FlowGraphReport{
		SurveyID: s.ID,
		Version:  s.Version,
		Status:   string(s.Status),
		Nodes:    g.View(),
		Report:   flow.Validate(g),
	}, nil
}

// Resolve answers "what comes next" for a question of a survey without
// recording anything.
func (e Engine) Resolve(ctx context.Context, surveyID, questionID int64, selected []int64) (domain.Determinant, error) {
	s, err := e.GetSurvey(ctx, surveyID)
	if err != nil {
		return domain.Determinant{}, err
	}
	return flow.ResolveNext(s, questionID, selected)
}

// ActivateSurvey validates a fresh snapshot and opens the survey to respondents.
// An invalid flow blocks activation with the validator's error.
func (e Engine) ActivateSurvey(ctx context.Context, surveyID, expectedVersion int64, actorID string) (domain.Survey, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Survey{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.LoadSurvey(ctx, tx, surveyID)
	if err != nil {
		return domain.Survey{}, err
	}
	if s.Status != domain.SurveyDraft {
		return domain.Survey{}, fault.Clientf(CodeInvalidTransition, "cannot activate %s survey %d", s.Status, s.ID)
	}
	report, err := flow.ValidateSurvey(s)
	if err != nil {
		return domain.Survey{}, err
	}
	if !report.Valid {
		e.log().Info("activation refused", "survey_id", s.ID, "reason", report.Reason, "cycle_path", report.CyclePath)
		return domain.Survey{}, report.Err(s.ID)
	}
	return e.transition(ctx, tx, s, expectedVersion, domain.SurveyActive, events.SurveyActivated, actorID, events.EventPayload{
		"endpoints": report.Endpoints,
		"warnings":  len(report.Warnings),
	})
}

// DeactivateSurvey returns an active survey to draft so its structure can change.
func (e Engine) DeactivateSurvey(ctx context.Context, surveyID, expectedVersion int64, actorID string) (domain.Survey, error) {
	return e.simpleTransition(ctx, surveyID, expectedVersion, domain.SurveyActive, domain.SurveyDraft, events.SurveyDeactivated, actorID)
}

// CloseSurvey stops an active survey for good.
func (e Engine) CloseSurvey(ctx context.Context, surveyID, expectedVersion int64, actorID string) (domain.Survey, error) {
	return e.simpleTransition(ctx, surveyID, expectedVersion, domain.SurveyActive, domain.SurveyClosed, events.SurveyClosed, actorID)
}

func (e Engine) simpleTransition(ctx context.Context, surveyID, expectedVersion int64, from, to domain.SurveyStatus, evt, actorID string) (domain.Survey, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Survey{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.LoadSurvey(ctx, tx, surveyID)
	if err != nil {
		return domain.Survey{}, err
	}
	if s.Status != from {
		return domain.Survey{}, fault.Clientf(CodeInvalidTransition, "survey %d is %s, expected %s", s.ID, s.Status, from)
	}
	return e.transition(ctx, tx, s, expectedVersion, to, evt, actorID, nil)
}

func (e Engine) transition(ctx context.Context, tx *sqlx.Tx, s domain.Survey, expectedVersion int64, to domain.SurveyStatus, evt, actorID string, payload events.EventPayload) (domain.Survey, error) {
	version, err := e.bump(ctx, tx, s.ID, expectedVersion)
	if err != nil {
		return domain.Survey{}, err
	}
	now := e.timestamp()
	if err := e.Repo.UpdateSurveyStatus(ctx, tx, s.ID, to, now); err != nil {
		return domain.Survey{}, err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from"] = string(s.Status)
	payload["to"] = string(to)
	if err := e.events().Append(ctx, tx, evt, s.ID, "survey", fmt.Sprint(s.ID), actorID, payload); err != nil {
		return domain.Survey{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Survey{}, err
	}
	e.log().Info("survey status changed", "survey_id", s.ID, "from", s.Status, "to", to)
	s.Status = to
	s.Version = version
	s.UpdatedAt = now
	return s, nil
}
