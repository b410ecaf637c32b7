package surveyflowsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureFlowSendsDeterminants(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/surveys/1/questions/2/flow", r.URL.Path)
		assert.Equal(t, "k1", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"survey_id":1,"version":4,"report":{"valid":true,"endpoints":[2]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/v1/")
	c.APIKey = "k1"
	res, err := c.ConfigureFlow(context.Background(), 1, 2, FlowUpdate{
		ExpectedVersion: 3,
		SetDefault:      true,
		Options:         map[int64]*Determinant{5: End()},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Version)
	assert.True(t, res.Report.Valid)

	assert.Equal(t, float64(3), got["expected_version"])
	assert.Contains(t, got, "default")
	assert.Nil(t, got["default"])
	opts := got["options"].([]any)
	require.Len(t, opts, 1)
	opt := opts[0].(map[string]any)
	assert.Equal(t, float64(5), opt["option_id"])
	assert.Equal(t, map[string]any{"kind": "end"}, opt["next"])
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"cycle_detected","message":"flow contains a cycle","details":{"cycle_path":[1,2,1]}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.Activate(context.Background(), 1, 0)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "cycle_detected", apiErr.Code)
	assert.Equal(t, []any{float64(1), float64(2), float64(1)}, apiErr.Details["cycle_path"])
	assert.Equal(t, "cycle_detected", ErrorCode(err))
}

func TestSubmitAnswerAndResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/surveys/1/resolve":
			_, _ = w.Write([]byte(`{"survey_id":1,"question_id":2,"next":{"kind":"goto","question_id":3}}`))
		case "/responses/r-1/answers":
			_, _ = w.Write([]byte(`{"response":{"id":"r-1","survey_id":1,"completed_at":"2024-01-01T00:00:00Z"},"next":{"kind":"end"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	next, err := c.Resolve(context.Background(), 1, 2, 7)
	require.NoError(t, err)
	require.NotNil(t, next.QuestionID)
	assert.Equal(t, int64(3), *next.QuestionID)

	res, err := c.SubmitAnswer(context.Background(), "r-1", 2, []int64{7}, "")
	require.NoError(t, err)
	assert.True(t, res.Next.IsEnd())
	assert.True(t, res.Response.Completed())
	assert.Nil(t, res.NextQuestion)
}
