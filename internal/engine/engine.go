package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"surveyflow/internal/config"
	"surveyflow/internal/domain"
	"surveyflow/internal/engine/auth"
	"surveyflow/internal/events"
	"surveyflow/internal/fault"
	"surveyflow/internal/repo"
)

// Client error codes returned by engine operations. Flow problems are
// reported as *flow.Error instead.
const (
	CodeInvalidInput       = "invalid_input"
	CodeSurveyNotDraft     = "survey_not_draft"
	CodeSurveyNotActive    = "survey_not_active"
	CodeInvalidTransition  = "invalid_transition"
	CodeQuestionInUse      = "question_in_use"
	CodeQuestionNotCurrent = "question_not_current"
	CodeResponseCompleted  = "response_completed"
	CodeUnknownRole        = "unknown_role"
)

type Engine struct {
	DB     *sqlx.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Auth   auth.Service
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sqlx.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{Now: time.Now},
		Config: cfg,
		Auth:   auth.Service{Config: cfg},
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) begin(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// bump advances the survey version, translating a mismatch into a client error.
func (e Engine) bump(ctx context.Context, tx *sqlx.Tx, surveyID, expected int64) (int64, error) {
	v, err := e.Repo.TouchSurvey(ctx, tx, surveyID, expected, e.timestamp())
	if errors.Is(err, fault.ErrStaleVersion) {
		return 0, fault.NewClientError("stale_version", fmt.Sprintf("survey %d changed since version %d", surveyID, expected), err)
	}
	return v, err
}

func requireDraft(s domain.Survey) error {
	if s.Status != domain.SurveyDraft {
		return fault.Clientf(CodeSurveyNotDraft, "survey %d is %s; structural edits need a draft survey", s.ID, s.Status)
	}
	return nil
}

func requireActive(s domain.Survey) error {
	if s.Status != domain.SurveyActive {
		return fault.Clientf(CodeSurveyNotActive, "survey %d is %s", s.ID, s.Status)
	}
	return nil
}

func invalidInput(format string, args ...any) error {
	return fault.Clientf(CodeInvalidInput, format, args...)
}
