package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"surveyflow/internal/config"
	"surveyflow/internal/domain"
	"surveyflow/internal/engine"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerSurveys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-survey",
		Method:        http.MethodPost,
		Path:          "/surveys",
		Summary:       "Create survey",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateSurveyRequest `json:"body"`
	}) (*struct {
		Body domain.Survey `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := requirePermission(ctx, e, config.PermSurveyWrite)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSurvey(ctx, engine.SurveyCreateOptions{Title: input.Body.Title, ActorID: principal.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Survey `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-surveys",
		Method:      http.MethodGet,
		Path:        "/surveys",
		Summary:     "List surveys",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"draft, active or closed"`
	}) (*struct {
		Body []domain.Survey `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, e, config.PermSurveyRead); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSurveys(ctx, domain.SurveyStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Survey `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-survey",
		Method:      http.MethodGet,
		Path:        "/surveys/{survey_id}",
		Summary:     "Get survey with questions and options",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SurveyID int64 `path:"survey_id"`
	}) (*struct {
		Body domain.Survey `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, e, config.PermSurveyRead); authErr != nil {
			return nil, authErr
		}
		s, err := e.GetSurvey(ctx, input.SurveyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Survey `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-survey",
		Method:        http.MethodDelete,
		Path:          "/surveys/{survey_id}",
		Summary:       "Delete survey",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		SurveyID int64 `path:"survey_id"`
	}) (*struct{}, error) {
		principal, authErr := requirePermission(ctx, e, config.PermSurveyWrite)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSurvey(ctx, input.SurveyID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerQuestions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-question",
		Method:        http.MethodPost,
		Path:          "/surveys/{survey_id}/questions",
		Summary:       "Add question",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		SurveyID int64              `path:"survey_id"`
		Body     AddQuestionRequest `json:"body"`
	}) (*struct {
		Body domain.Question `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, e, config.PermSurveyWrite)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.AddQuestion(ctx, engine.QuestionAddOptions{
			SurveyID:        input.SurveyID,
			ExpectedVersion: input.Body.ExpectedVersion,
			Type:            domain.QuestionType(input.Body.Type),
			Text:            input.Body.Text,
			Constraint:      input.Body.Constraint,
			Position:        input.Body.Position,
			Options:         input.Body.Options,
			ActorID:         principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Question `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-question",
		Method:        http.MethodDelete,
		Path:          "/questions/{question_id}",
		Summary:       "Delete question",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		QuestionID      int64 `path:"question_id"`
		ExpectedVersion int64 `query:"expected_version"`
	}) (*struct{}, error) {
		principal, authErr := requirePermission(ctx, e, config.PermSurveyWrite)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteQuestion(ctx, input.QuestionID, input.ExpectedVersion, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-option",
		Method:        http.MethodPost,
		Path:          "/questions/{question_id}/options",
		Summary:       "Add option",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		QuestionID int64            `path:"question_id"`
		Body       AddOptionRequest `json:"body"`
	}) (*struct {
		Body domain.Option `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, e, config.PermSurveyWrite)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.AddOption(ctx, engine.OptionAddOptions{
			QuestionID:      input.QuestionID,
			ExpectedVersion: input.Body.ExpectedVersion,
			Text:            input.Body.Text,
			Position:        input.Body.Position,
			ActorID:         principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Option `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-option",
		Method:        http.MethodDelete,
		Path:          "/options/{option_id}",
		Summary:       "Delete option",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		OptionID        int64 `path:"option_id"`
		ExpectedVersion int64 `query:"expected_version"`
	}) (*struct{}, error) {
		principal, authErr := requirePermission(ctx, e, config.PermSurveyWrite)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteOption(ctx, input.OptionID, input.ExpectedVersion, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTransfer(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-survey",
		Method:        http.MethodPost,
		Path:          "/surveys/import",
		Summary:       "Import a survey from a YAML survey file",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/yaml"`
	}) (*struct {
		Body engine.ImportResult `json:"body"`
	}, error) {
		if len(strings.TrimSpace(string(input.RawBody))) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := requirePermission(ctx, e, config.PermSurveyWrite)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ImportSurvey(ctx, input.RawBody, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ImportResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-survey",
		Method:      http.MethodGet,
		Path:        "/surveys/{survey_id}/export",
		Summary:     "Export a survey as a YAML survey file",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SurveyID int64 `path:"survey_id"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		if _, authErr := requirePermission(ctx, e, config.PermSurveyRead); authErr != nil {
			return nil, authErr
		}
		data, err := e.ExportSurvey(ctx, input.SurveyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "application/yaml", Body: data}, nil
	})
}
