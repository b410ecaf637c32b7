package domain

import (
	"fmt"
	"sort"
)

// QuestionType is the closed set of question kinds.
type QuestionType string

const (
	QuestionText           QuestionType = "text"
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionRating         QuestionType = "rating"
)

// QuestionTypes lists every question type in display order.
var QuestionTypes = []QuestionType{QuestionText, QuestionSingleChoice, QuestionMultipleChoice, QuestionRating}

func ParseQuestionType(s string) (QuestionType, error) {
	for _, t := range QuestionTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid question type %q", s)
}

// Branches reports whether each option of the type may carry its own determinant.
// Multiple choice never branches: several selections could imply conflicting outcomes.
func (t QuestionType) Branches() bool {
	switch t {
	case QuestionSingleChoice, QuestionRating:
		return true
	case QuestionText, QuestionMultipleChoice:
		return false
	default:
		return false
	}
}

// HasOptions reports whether answers are given by selecting options.
func (t QuestionType) HasOptions() bool {
	switch t {
	case QuestionSingleChoice, QuestionMultipleChoice, QuestionRating:
		return true
	case QuestionText:
		return false
	default:
		return false
	}
}

type SurveyStatus string

const (
	SurveyDraft  SurveyStatus = "draft"
	SurveyActive SurveyStatus = "active"
	SurveyClosed SurveyStatus = "closed"
)

type Survey struct {
	ID        int64        `json:"id"`
	Title     string       `json:"title"`
	Status    SurveyStatus `json:"status" enum:"draft,active,closed"`
	Version   int64        `json:"version"`
	CreatedBy string       `json:"created_by"`
	CreatedAt string       `json:"created_at" format:"date-time"`
	UpdatedAt string       `json:"updated_at" format:"date-time"`
	Questions []Question   `json:"questions,omitempty"`
}

type Question struct {
	ID         int64        `json:"id"`
	SurveyID   int64        `json:"survey_id"`
	Position   int          `json:"position"`
	Type       QuestionType `json:"type"`
	Text       string       `json:"text"`
	Constraint string       `json:"constraint,omitempty"`
	Next       *Determinant `json:"next,omitempty"`
	Options    []Option     `json:"options,omitempty"`
}

func (q Question) Branches() bool { return q.Type.Branches() }

// Option returns the option with the given id if it belongs to q.
func (q Question) Option(id int64) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

type Option struct {
	ID         int64        `json:"id"`
	QuestionID int64        `json:"question_id"`
	Position   int          `json:"position"`
	Text       string       `json:"text"`
	Next       *Determinant `json:"next,omitempty"`
}

// Question returns the question with the given id if it belongs to s.
func (s Survey) Question(id int64) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Ordered returns the survey's questions sorted by position, ties broken by id.
func (s Survey) Ordered() []Question {
	out := make([]Question, len(s.Questions))
	copy(out, s.Questions)
	SortQuestions(out)
	return out
}

// First returns the first question by order index.
func (s Survey) First() (Question, bool) {
	ordered := s.Ordered()
	if len(ordered) == 0 {
		return Question{}, false
	}
	return ordered[0], true
}

func SortQuestions(qs []Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].Position != qs[j].Position {
			return qs[i].Position < qs[j].Position
		}
		return qs[i].ID < qs[j].ID
	})
}

func SortOptions(opts []Option) {
	sort.SliceStable(opts, func(i, j int) bool {
		if opts[i].Position != opts[j].Position {
			return opts[i].Position < opts[j].Position
		}
		return opts[i].ID < opts[j].ID
	})
}

// Response is one respondent's session through a survey.
type Response struct {
	ID                string  `json:"id"`
	SurveyID          int64   `json:"survey_id"`
	RespondentID      string  `json:"respondent_id"`
	CurrentQuestionID *int64  `json:"current_question_id,omitempty"`
	StartedAt         string  `json:"started_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time"`
}

func (r Response) Completed() bool { return r.CompletedAt != nil }

// Answer records one answered question together with the resolved outcome.
type Answer struct {
	ResponseID string      `json:"response_id"`
	QuestionID int64       `json:"question_id"`
	OptionIDs  []int64     `json:"option_ids,omitempty"`
	Value      string      `json:"value,omitempty"`
	Next       Determinant `json:"next"`
	CreatedAt  string      `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SurveyID   *int64 `json:"survey_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles"`
	KeyHash   string   `json:"key_hash"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
