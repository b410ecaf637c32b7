package engine

import (
	"context"
	"fmt"
	"strings"

	"surveyflow/internal/answer"
	"surveyflow/internal/domain"
	"surveyflow/internal/events"
	"surveyflow/internal/flow"
	"surveyflow/internal/surveyfile"
)

type ImportResult struct {
	Survey domain.Survey `json:"survey"`
	Report flow.Result   `json:"report"`
}

// ImportSurvey creates a draft survey from a YAML survey file in one
// transaction and returns it with its validation report.
func (e Engine) ImportSurvey(ctx context.Context, data []byte, actorID string) (ImportResult, error) {
	f, err := surveyfile.Parse(data)
	if err != nil {
		return ImportResult{}, invalidInput("%v", err)
	}
	for _, q := range f.Questions {
		if strings.TrimSpace(q.Constraint) == "" {
			continue
		}
		if _, err := answer.Compile(q.Constraint); err != nil {
			return ImportResult{}, err
		}
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	defer tx.Rollback()

	now := e.timestamp()
	surveyID, err := e.Repo.InsertSurvey(ctx, tx, domain.Survey{
		Title:     strings.TrimSpace(f.Title),
		Status:    domain.SurveyDraft,
		Version:   1,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("insert survey: %w", err)
	}
	ids := make(map[string]int64, len(f.Questions))
	optionIDs := make(map[string][]int64, len(f.Questions))
	for i, fq := range f.Questions {
		q := domain.Question{
			SurveyID:   surveyID,
			Position:   i + 1,
			Type:       domain.QuestionType(fq.Type),
			Text:       strings.TrimSpace(fq.Text),
			Constraint: strings.TrimSpace(fq.Constraint),
		}
		if q.ID, err = e.Repo.InsertQuestion(ctx, tx, q); err != nil {
			return ImportResult{}, fmt.Errorf("insert question %s: %w", fq.Key, err)
		}
		ids[fq.Key] = q.ID
		for j, fo := range fq.Options {
			id, err := e.Repo.InsertOption(ctx, tx, surveyID, domain.Option{QuestionID: q.ID, Position: j + 1, Text: strings.TrimSpace(fo.Text)})
			if err != nil {
				return ImportResult{}, fmt.Errorf("insert option of %s: %w", fq.Key, err)
			}
			optionIDs[fq.Key] = append(optionIDs[fq.Key], id)
		}
	}
	for _, fq := range f.Questions {
		next, err := surveyfile.Determinant(fq.Next, ids)
		if err != nil {
			return ImportResult{}, invalidInput("question %s: %v", fq.Key, err)
		}
		if next != nil {
			if err := e.Repo.SetQuestionNext(ctx, tx, ids[fq.Key], next); err != nil {
				return ImportResult{}, fmt.Errorf("set next of %s: %w", fq.Key, err)
			}
		}
		for j, fo := range fq.Options {
			d, err := surveyfile.Determinant(fo.Next, ids)
			if err != nil {
				return ImportResult{}, invalidInput("question %s option %d: %v", fq.Key, j+1, err)
			}
			if d == nil {
				continue
			}
			if err := e.Repo.SetOptionNext(ctx, tx, optionIDs[fq.Key][j], d); err != nil {
				return ImportResult{}, fmt.Errorf("set next of %s option %d: %w", fq.Key, j+1, err)
			}
		}
	}
	s, err := e.Repo.LoadSurvey(ctx, tx, surveyID)
	if err != nil {
		return ImportResult{}, err
	}
	report, err := flow.ValidateSurvey(s)
	if err != nil {
		return ImportResult{}, err
	}
	if err := e.events().Append(ctx, tx, events.SurveyImported, surveyID, "survey", fmt.Sprint(surveyID), actorID, events.EventPayload{
		"title":     s.Title,
		"questions": len(s.Questions),
		"valid":     report.Valid,
	}); err != nil {
		return ImportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	e.log().Info("survey imported", "survey_id", surveyID, "questions", len(s.Questions), "valid", report.Valid)
	return ImportResult{Survey: s, Report: report}, nil
}

// ExportSurvey renders a survey as a YAML survey file.
func (e Engine) ExportSurvey(ctx context.Context, surveyID int64) ([]byte, error) {
	s, err := e.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	f, err := surveyfile.FromSurvey(s)
	if err != nil {
		return nil, err
	}
	return surveyfile.Marshal(f)
}
