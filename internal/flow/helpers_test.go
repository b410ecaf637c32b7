package flow

import (
	"surveyflow/internal/domain"
)

const testSurveyID = 1

func goTo(id int64) *domain.Determinant {
	d := domain.MustGoTo(id)
	return &d
}

func end() *domain.Determinant {
	d := domain.EndSurvey()
	return &d
}

func newSurvey(qs ...domain.Question) domain.Survey {
	for i := range qs {
		qs[i].SurveyID = testSurveyID
		if qs[i].Position == 0 {
			qs[i].Position = i + 1
		}
		for j := range qs[i].Options {
			qs[i].Options[j].QuestionID = qs[i].ID
			if qs[i].Options[j].Position == 0 {
				qs[i].Options[j].Position = j + 1
			}
		}
	}
	return domain.Survey{ID: testSurveyID, Status: domain.SurveyDraft, Questions: qs}
}

func text(id int64, next *domain.Determinant) domain.Question {
	return domain.Question{ID: id, Type: domain.QuestionText, Next: next}
}

func choice(id int64, typ domain.QuestionType, next *domain.Determinant, opts ...domain.Option) domain.Question {
	return domain.Question{ID: id, Type: typ, Next: next, Options: opts}
}

func opt(id int64, next *domain.Determinant) domain.Option {
	return domain.Option{ID: id, Text: "option", Next: next}
}
