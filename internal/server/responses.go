package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"surveyflow/internal/config"
	"surveyflow/internal/domain"
	"surveyflow/internal/engine"
	"surveyflow/internal/engine/auth"
)

func registerResponses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-response",
		Method:        http.MethodPost,
		Path:          "/surveys/{survey_id}/responses",
		Summary:       "Start a respondent session",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		SurveyID int64                 `path:"survey_id"`
		Body     *StartResponseRequest `required:"false"`
	}) (*struct {
		Body domain.Response `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, e, config.PermResponseWrite)
		if authErr != nil {
			return nil, authErr
		}
		respondent := principal.ActorID
		if input.Body != nil && strings.TrimSpace(input.Body.RespondentID) != "" {
			respondent = input.Body.RespondentID
		}
		resp, err := e.StartResponse(ctx, input.SurveyID, respondent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Response `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-responses",
		Method:      http.MethodGet,
		Path:        "/surveys/{survey_id}/responses",
		Summary:     "List responses of a survey",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SurveyID int64 `path:"survey_id"`
	}) (*struct {
		Body []domain.Response `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, e, config.PermResponseRead); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListResponses(ctx, input.SurveyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Response `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-response",
		Method:      http.MethodGet,
		Path:        "/responses/{response_id}",
		Summary:     "Get a response with its answers",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ResponseID string `path:"response_id"`
	}) (*struct {
		Body ResponseDetail `json:"body"`
	}, error) {
		resp, authErr := responseForCaller(ctx, e, input.ResponseID)
		if authErr != nil {
			return nil, authErr
		}
		answers, err := e.ListAnswers(ctx, resp.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResponseDetail `json:"body"`
		}{Body: ResponseDetail{Response: resp, Answers: nonNilSlice(answers)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-answer",
		Method:      http.MethodPost,
		Path:        "/responses/{response_id}/answers",
		Summary:     "Answer the current question and advance",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ResponseID string              `path:"response_id"`
		Body       SubmitAnswerRequest `json:"body"`
	}) (*struct {
		Body engine.AnswerResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := requirePermission(ctx, e, config.PermResponseWrite)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SubmitAnswer(ctx, engine.AnswerOptions{
			ResponseID: input.ResponseID,
			QuestionID: input.Body.QuestionID,
			OptionIDs:  input.Body.OptionIDs,
			Value:      input.Body.Value,
			ActorID:    principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AnswerResult `json:"body"`
		}{Body: res}, nil
	})
}

// responseForCaller loads a response the caller may act on. Holders of
// response.read see every response; respondents only their own.
func responseForCaller(ctx context.Context, e engine.Engine, responseID string) (domain.Response, huma.StatusError) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return domain.Response{}, authErr
	}
	canRead := e.Auth.Require(principal.Roles, principal.Permissions, config.PermResponseRead) == nil
	if !canRead && e.Auth.Require(principal.Roles, principal.Permissions, config.PermResponseWrite) != nil {
		return domain.Response{}, handleError(auth.ForbiddenError{Permission: config.PermResponseWrite})
	}
	resp, err := e.GetResponse(ctx, responseID)
	if err != nil {
		return domain.Response{}, handleError(err)
	}
	if !canRead && resp.RespondentID != principal.ActorID {
		return domain.Response{}, handleError(auth.ForbiddenError{Permission: config.PermResponseRead})
	}
	return resp, nil
}
