package surveyflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Surveyflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path,
// e.g. http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Determinant is the outcome of an answer: {"kind":"goto","question_id":5} or
// {"kind":"end"}.
type Determinant struct {
	Kind       string `json:"kind"`
	QuestionID *int64 `json:"question_id,omitempty"`
}

func GoTo(questionID int64) *Determinant {
	return &Determinant{Kind: "goto", QuestionID: &questionID}
}

func End() *Determinant {
	return &Determinant{Kind: "end"}
}

func (d Determinant) IsEnd() bool { return d.Kind == "end" }

// Survey represents the API survey model (partial).
type Survey struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	Version   int64      `json:"version"`
	Questions []Question `json:"questions"`
}

type Question struct {
	ID         int64        `json:"id"`
	SurveyID   int64        `json:"survey_id"`
	Position   int          `json:"position"`
	Type       string       `json:"type"`
	Text       string       `json:"text"`
	Constraint string       `json:"constraint,omitempty"`
	Next       *Determinant `json:"next,omitempty"`
	Options    []Option     `json:"options,omitempty"`
}

type Option struct {
	ID         int64        `json:"id"`
	QuestionID int64        `json:"question_id"`
	Position   int          `json:"position"`
	Text       string       `json:"text"`
	Next       *Determinant `json:"next,omitempty"`
}

// FlowReport is the validation outcome of a survey flow.
type FlowReport struct {
	Valid     bool    `json:"valid"`
	Reason    string  `json:"reason,omitempty"`
	Message   string  `json:"message,omitempty"`
	CyclePath []int64 `json:"cycle_path,omitempty"`
	Endpoints []int64 `json:"endpoints,omitempty"`
	Warnings  []struct {
		Code       string `json:"code"`
		QuestionID int64  `json:"question_id,omitempty"`
		Message    string `json:"message"`
	} `json:"warnings,omitempty"`
}

type FlowConfigResult struct {
	SurveyID int64      `json:"survey_id"`
	Version  int64      `json:"version"`
	Report   FlowReport `json:"report"`
}

// FlowUpdate configures one question. Default is only sent when SetDefault is
// true; a nil Default then clears it. A nil entry in Options clears that option.
type FlowUpdate struct {
	ExpectedVersion int64
	SetDefault      bool
	Default         *Determinant
	Options         map[int64]*Determinant
}

type Response struct {
	ID                string   `json:"id"`
	SurveyID          int64    `json:"survey_id"`
	RespondentID      string   `json:"respondent_id"`
	CurrentQuestionID *int64   `json:"current_question_id,omitempty"`
	CompletedAt       *string  `json:"completed_at,omitempty"`
	Answers           []Answer `json:"answers,omitempty"`
}

func (r Response) Completed() bool { return r.CompletedAt != nil }

type Answer struct {
	QuestionID int64       `json:"question_id"`
	OptionIDs  []int64     `json:"option_ids,omitempty"`
	Value      string      `json:"value,omitempty"`
	Next       Determinant `json:"next"`
}

type AnswerResult struct {
	Response     Response    `json:"response"`
	Next         Determinant `json:"next"`
	NextQuestion *Question   `json:"next_question,omitempty"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the envelope code of an *APIError, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// CreateSurvey creates a draft survey.
func (c *Client) CreateSurvey(ctx context.Context, title string) (Survey, error) {
	var resp Survey
	err := c.do(ctx, http.MethodPost, "surveys", map[string]any{"title": title}, &resp)
	return resp, err
}

func (c *Client) GetSurvey(ctx context.Context, surveyID int64) (Survey, error) {
	var resp Survey
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("surveys/%d", surveyID), nil, &resp)
	return resp, err
}

// AddQuestion appends a question with optional answer options.
func (c *Client) AddQuestion(ctx context.Context, surveyID int64, questionType, text string, options ...string) (Question, error) {
	body := map[string]any{
		"type": questionType,
		"text": text,
	}
	if len(options) > 0 {
		body["options"] = options
	}
	var resp Question
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("surveys/%d/questions", surveyID), body, &resp)
	return resp, err
}

// ConfigureFlow sets the determinants of one question.
func (c *Client) ConfigureFlow(ctx context.Context, surveyID, questionID int64, u FlowUpdate) (FlowConfigResult, error) {
	body := map[string]any{}
	if u.ExpectedVersion > 0 {
		body["expected_version"] = u.ExpectedVersion
	}
	if u.SetDefault {
		body["default"] = u.Default
	}
	if len(u.Options) > 0 {
		opts := make([]map[string]any, 0, len(u.Options))
		for id, next := range u.Options {
			opts = append(opts, map[string]any{"option_id": id, "next": next})
		}
		body["options"] = opts
	}
	var resp FlowConfigResult
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("surveys/%d/questions/%d/flow", surveyID, questionID), body, &resp)
	return resp, err
}

// ValidateFlow validates a survey without changing it.
func (c *Client) ValidateFlow(ctx context.Context, surveyID int64) (FlowReport, error) {
	var resp FlowReport
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("surveys/%d/flow/validate", surveyID), nil, &resp)
	return resp, err
}

// Resolve returns what follows the given answer without recording it.
func (c *Client) Resolve(ctx context.Context, surveyID, questionID int64, optionIDs ...int64) (Determinant, error) {
	body := map[string]any{"question_id": questionID}
	if len(optionIDs) > 0 {
		body["option_ids"] = optionIDs
	}
	var resp struct {
		Next Determinant `json:"next"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("surveys/%d/resolve", surveyID), body, &resp)
	return resp.Next, err
}

// Activate validates the flow and opens the survey for responses.
func (c *Client) Activate(ctx context.Context, surveyID, expectedVersion int64) (Survey, error) {
	return c.transition(ctx, surveyID, "activate", expectedVersion)
}

func (c *Client) Close(ctx context.Context, surveyID, expectedVersion int64) (Survey, error) {
	return c.transition(ctx, surveyID, "close", expectedVersion)
}

func (c *Client) transition(ctx context.Context, surveyID int64, action string, expectedVersion int64) (Survey, error) {
	body := map[string]any{}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Survey
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("surveys/%d/%s", surveyID, action), body, &resp)
	return resp, err
}

// StartResponse starts a response; an empty respondentID uses the caller.
func (c *Client) StartResponse(ctx context.Context, surveyID int64, respondentID string) (Response, error) {
	body := map[string]any{}
	if respondentID != "" {
		body["respondent_id"] = respondentID
	}
	var resp Response
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("surveys/%d/responses", surveyID), body, &resp)
	return resp, err
}

// SubmitAnswer answers the current question of a response.
func (c *Client) SubmitAnswer(ctx context.Context, responseID string, questionID int64, optionIDs []int64, value string) (AnswerResult, error) {
	body := map[string]any{"question_id": questionID}
	if len(optionIDs) > 0 {
		body["option_ids"] = optionIDs
	}
	if value != "" {
		body["value"] = value
	}
	var resp AnswerResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("responses/%s/answers", url.PathEscape(responseID)), body, &resp)
	return resp, err
}

// GetResponse fetches a response with its answers.
func (c *Client) GetResponse(ctx context.Context, responseID string) (Response, error) {
	var resp Response
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("responses/%s", url.PathEscape(responseID)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
