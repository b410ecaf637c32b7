package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"surveyflow/internal/config"
	"surveyflow/internal/domain"
	"surveyflow/internal/engine"
	"surveyflow/internal/flow"
)

func registerFlow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "configure-flow",
		Method:      http.MethodPut,
		Path:        "/surveys/{survey_id}/questions/{question_id}/flow",
		Summary:     "Set the determinants of a question and its options",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		SurveyID   int64                `path:"survey_id"`
		QuestionID int64                `path:"question_id"`
		Body       ConfigureFlowRequest `json:"body"`
	}) (*struct {
		Body engine.FlowConfigResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := requirePermission(ctx, e, config.PermFlowConfigure)
		if authErr != nil {
			return nil, authErr
		}
		update := engine.FlowUpdate{
			SurveyID:        input.SurveyID,
			QuestionID:      input.QuestionID,
			ExpectedVersion: input.Body.ExpectedVersion,
			ActorID:         principal.ActorID,
		}
		if _, ok := rawBodyMap(ctx)["default"]; ok {
			update.SetDefault = true
			d, apiErr := determinantFromBody(input.Body.Default, "default")
			if apiErr != nil {
				return nil, apiErr
			}
			update.Default = d
		}
		if len(input.Body.Options) > 0 {
			update.Options = make(map[int64]*domain.Determinant, len(input.Body.Options))
			for _, o := range input.Body.Options {
				if _, dup := update.Options[o.OptionID]; dup {
					return nil, newAPIError(http.StatusBadRequest, "bad_request", "option listed twice", map[string]any{"option_id": o.OptionID})
				}
				d, apiErr := determinantFromBody(o.Next, "options.next")
				if apiErr != nil {
					return nil, apiErr
				}
				update.Options[o.OptionID] = d
			}
		}
		if !update.SetDefault && len(update.Options) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "default or options required", nil)
		}
		res, err := e.ConfigureFlow(ctx, update)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.FlowConfigResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-flow",
		Method:      http.MethodGet,
		Path:        "/surveys/{survey_id}/flow/validate",
		Summary:     "Validate the survey flow",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SurveyID int64 `path:"survey_id"`
	}) (*struct {
		Body flow.Result `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, e, config.PermSurveyRead); authErr != nil {
			return nil, authErr
		}
		res, err := e.ValidateFlow(ctx, input.SurveyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body flow.Result `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "flow-graph",
		Method:      http.MethodGet,
		Path:        "/surveys/{survey_id}/flow/graph",
		Summary:     "Derived flow graph with validation report",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SurveyID int64 `path:"survey_id"`
	}) (*struct {
		Body engine.FlowGraphReport `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, e, config.PermSurveyRead); authErr != nil {
			return nil, authErr
		}
		res, err := e.FlowGraph(ctx, input.SurveyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.FlowGraphReport `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-next",
		Method:      http.MethodPost,
		Path:        "/surveys/{survey_id}/resolve",
		Summary:     "Resolve the next question for an answer without recording it",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SurveyID int64          `path:"survey_id"`
		Body     ResolveRequest `json:"body"`
	}) (*struct {
		Body ResolveResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, e, config.PermSurveyRead); authErr != nil {
			return nil, authErr
		}
		next, err := e.Resolve(ctx, input.SurveyID, input.Body.QuestionID, input.Body.OptionIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolveResponse `json:"body"`
		}{Body: ResolveResponse{SurveyID: input.SurveyID, QuestionID: input.Body.QuestionID, Next: next}}, nil
	})
}

func determinantFromBody(b *DeterminantBody, field string) (*domain.Determinant, huma.StatusError) {
	if b == nil {
		return nil, nil
	}
	d, err := b.toDomain()
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, string(flow.CodeInvalidDeterminant), err.Error(), map[string]any{"field": field})
	}
	return &d, nil
}

func registerLifecycle(api huma.API, e engine.Engine) {
	transitions := []struct {
		id      string
		suffix  string
		summary string
		run     func(ctx context.Context, surveyID, expectedVersion int64, actorID string) (domain.Survey, error)
	}{
		{"activate-survey", "activate", "Validate the flow and open the survey to respondents", e.ActivateSurvey},
		{"deactivate-survey", "deactivate", "Return an active survey to draft", e.DeactivateSurvey},
		{"close-survey", "close", "Close an active survey", e.CloseSurvey},
	}
	for _, tr := range transitions {
		run := tr.run
		huma.Register(api, huma.Operation{
			OperationID: tr.id,
			Method:      http.MethodPost,
			Path:        "/surveys/{survey_id}/" + tr.suffix,
			Summary:     tr.summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			SurveyID int64              `path:"survey_id"`
			Body     *TransitionRequest `required:"false"`
		}) (*struct {
			Body domain.Survey `json:"body"`
		}, error) {
			principal, authErr := requirePermission(ctx, e, config.PermSurveyPublish)
			if authErr != nil {
				return nil, authErr
			}
			var expected int64
			if input.Body != nil {
				expected = input.Body.ExpectedVersion
			}
			s, err := run(ctx, input.SurveyID, expected, principal.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Survey `json:"body"`
			}{Body: s}, nil
		})
	}
}
