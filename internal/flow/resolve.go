package flow

import (
	"surveyflow/internal/domain"
)

// ResolveNext returns what follows when questionID of s is answered with the
// selected options: GoToQuestion(next) or EndSurvey. First match wins:
//
//  1. a branching question with exactly one selected option that carries its own determinant
//  2. the question's default determinant
//  3. the next question by order index, or EndSurvey after the last one
//
// Selecting an option that does not belong to the question is a caller error and
// never degrades into ending the survey.
func ResolveNext(s domain.Survey, questionID int64, selected []int64) (domain.Determinant, error) {
	q, ok := s.Question(questionID)
	if !ok {
		err := newError(KindResolutionInput, CodeUnknownQuestion, "question %d is not part of survey %d", questionID, s.ID)
		err.SurveyID = s.ID
		err.QuestionID = questionID
		return domain.Determinant{}, err
	}
	chosen, err := selectedOptions(s.ID, q, selected)
	if err != nil {
		return domain.Determinant{}, err
	}
	if q.Branches() && len(chosen) == 1 && chosen[0].Next != nil {
		return checked(s.ID, q.ID, chosen[0].ID, *chosen[0].Next)
	}
	if q.Next != nil {
		return checked(s.ID, q.ID, 0, *q.Next)
	}
	return sequentialNext(s, q)
}

func selectedOptions(surveyID int64, q domain.Question, selected []int64) ([]domain.Option, error) {
	if len(selected) > 0 && !q.Type.HasOptions() {
		err := newError(KindResolutionInput, CodeOptionsNotSupported, "question %d of type %s takes no options", q.ID, q.Type)
		err.SurveyID = surveyID
		err.QuestionID = q.ID
		return nil, err
	}
	out := make([]domain.Option, 0, len(selected))
	seen := make(map[int64]struct{}, len(selected))
	for _, id := range selected {
		// Repeating an id selects that option once.
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		o, ok := q.Option(id)
		if !ok {
			err := newError(KindResolutionInput, CodeOptionNotInQuestion, "option %d does not belong to question %d", id, q.ID)
			err.SurveyID = surveyID
			err.QuestionID = q.ID
			err.OptionID = id
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func checked(surveyID, questionID, optionID int64, d domain.Determinant) (domain.Determinant, error) {
	if !d.Valid() {
		err := newError(KindConfiguration, CodeInvalidDeterminant, "question %d has a malformed determinant", questionID)
		err.SurveyID = surveyID
		err.QuestionID = questionID
		err.OptionID = optionID
		return domain.Determinant{}, err
	}
	return d, nil
}

// sequentialNext picks the question with the smallest order index after q.
func sequentialNext(s domain.Survey, q domain.Question) (domain.Determinant, error) {
	var (
		next  domain.Question
		found bool
	)
	for _, c := range s.Questions {
		if !after(c, q) {
			continue
		}
		if !found || after(next, c) {
			next = c
			found = true
		}
	}
	if !found {
		return domain.EndSurvey(), nil
	}
	return domain.GoToQuestion(next.ID)
}

// after orders questions by position, then id.
func after(a, b domain.Question) bool {
	if a.Position != b.Position {
		return a.Position > b.Position
	}
	return a.ID > b.ID
}
