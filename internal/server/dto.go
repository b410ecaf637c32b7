package server

import (
	"encoding/json"

	"surveyflow/internal/domain"
)

// Request payloads

type CreateSurveyRequest struct {
	Title string `json:"title"`
}

type AddQuestionRequest struct {
	Type            string   `json:"type" enum:"text,single_choice,multiple_choice,rating"`
	Text            string   `json:"text"`
	Constraint      string   `json:"constraint,omitempty"`
	Position        int      `json:"position,omitempty"`
	Options         []string `json:"options,omitempty"`
	ExpectedVersion int64    `json:"expected_version,omitempty"`
}

type AddOptionRequest struct {
	Text            string `json:"text"`
	Position        int    `json:"position,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

// DeterminantBody is the wire shape of a determinant: {"kind":"goto","question_id":5}
// or {"kind":"end"}.
type DeterminantBody struct {
	Kind       string `json:"kind" enum:"goto,end"`
	QuestionID *int64 `json:"question_id,omitempty"`
}

func (b DeterminantBody) toDomain() (domain.Determinant, error) {
	return domain.NewDeterminant(domain.DeterminantKind(b.Kind), b.QuestionID)
}

type OptionFlowRequest struct {
	OptionID int64 `json:"option_id"`
	// Next null or absent clears the option determinant.
	Next *DeterminantBody `json:"next,omitempty"`
}

// ConfigureFlowRequest leaves the question default untouched when "default" is
// absent; null clears it.
type ConfigureFlowRequest struct {
	ExpectedVersion int64               `json:"expected_version,omitempty"`
	Default         *DeterminantBody    `json:"default,omitempty"`
	Options         []OptionFlowRequest `json:"options,omitempty"`
}

type ResolveRequest struct {
	QuestionID int64   `json:"question_id"`
	OptionIDs  []int64 `json:"option_ids,omitempty"`
}

type TransitionRequest struct {
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

type StartResponseRequest struct {
	RespondentID string `json:"respondent_id,omitempty"`
}

type SubmitAnswerRequest struct {
	QuestionID int64   `json:"question_id"`
	OptionIDs  []int64 `json:"option_ids,omitempty"`
	Value      string  `json:"value,omitempty"`
}

type DevTokenRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Responses

type DevTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type ResolveResponse struct {
	SurveyID   int64              `json:"survey_id"`
	QuestionID int64              `json:"question_id"`
	Next       domain.Determinant `json:"next"`
}

type ResponseDetail struct {
	domain.Response
	Answers []domain.Answer `json:"answers"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	SurveyID   *int64          `json:"survey_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items []EventResponse `json:"items"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		SurveyID:   evt.SurveyID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
