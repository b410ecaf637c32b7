package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflow/internal/config"
	"surveyflow/internal/db"
	"surveyflow/internal/domain"
	"surveyflow/internal/engine"
	"surveyflow/internal/migrate"
	"surveyflow/internal/workerpool"
)

const testSecret = "test-secret"

var (
	admin      = map[string]string{"X-Actor-Id": "alice", "X-Actor-Roles": "admin"}
	respondent = map[string]string{"X-Actor-Id": "bob", "X-Actor-Roles": "respondent"}
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Auth.AllowActorHeader = true
	cfg.Auth.AllowDevTokens = true
	if mutate != nil {
		mutate(cfg)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, cfg, quietLogger())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfigFrom(cfg, testSecret, quietLogger()),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String() + "/v1", Engine: e, client: &http.Client{}}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func goToBody(id int64) map[string]any { return map[string]any{"kind": "goto", "question_id": id} }

var endBody = map[string]any{"kind": "end"}

type builtSurvey struct {
	Survey     domain.Survey
	Q1, Q2, Q3 domain.Question
	Yes, No    int64
}

// buildSurvey creates Q1 -> Q2 {Yes: END, No: Q3}, Q3 -> END over HTTP.
func buildSurvey(t *testing.T, s *testServer) builtSurvey {
	t.Helper()
	status, data := s.do(t, http.MethodPost, "/surveys", map[string]any{"title": "Feedback"}, admin)
	require.Equal(t, http.StatusCreated, status, string(data))
	survey := decode[domain.Survey](t, data)

	addQuestion := func(body map[string]any) domain.Question {
		status, data := s.do(t, http.MethodPost, fmt.Sprintf("/surveys/%d/questions", survey.ID), body, admin)
		require.Equal(t, http.StatusCreated, status, string(data))
		return decode[domain.Question](t, data)
	}
	q1 := addQuestion(map[string]any{"type": "text", "text": "Your name?"})
	q2 := addQuestion(map[string]any{"type": "single_choice", "text": "Recommend us?", "options": []string{"Yes", "No"}})
	q3 := addQuestion(map[string]any{"type": "text", "text": "Why not?"})
	require.Len(t, q2.Options, 2)
	b := builtSurvey{Survey: survey, Q1: q1, Q2: q2, Q3: q3, Yes: q2.Options[0].ID, No: q2.Options[1].ID}

	configure(t, s, survey.ID, q1.ID, map[string]any{"default": goToBody(q2.ID)}, http.StatusOK)
	configure(t, s, survey.ID, q2.ID, map[string]any{"options": []map[string]any{
		{"option_id": b.Yes, "next": endBody},
		{"option_id": b.No, "next": goToBody(q3.ID)},
	}}, http.StatusOK)
	configure(t, s, survey.ID, q3.ID, map[string]any{"default": endBody}, http.StatusOK)
	return b
}

func configure(t *testing.T, s *testServer, surveyID, questionID int64, body map[string]any, want int) []byte {
	t.Helper()
	status, data := s.do(t, http.MethodPut, fmt.Sprintf("/surveys/%d/questions/%d/flow", surveyID, questionID), body, admin)
	require.Equal(t, want, status, string(data))
	return data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(t, nil)
	status, data := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	status, data = s.do(t, http.MethodGet, "/surveys", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, data).Error.Code)
}

func TestSurveyFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	b := buildSurvey(t, s)

	status, data := s.do(t, http.MethodGet, fmt.Sprintf("/surveys/%d/flow/validate", b.Survey.ID), nil, admin)
	require.Equal(t, http.StatusOK, status, string(data))
	report := decode[map[string]any](t, data)
	assert.Equal(t, true, report["valid"])
	assert.Equal(t, []any{float64(b.Q2.ID), float64(b.Q3.ID)}, report["endpoints"])

	status, data = s.do(t, http.MethodPost, fmt.Sprintf("/surveys/%d/resolve", b.Survey.ID), map[string]any{
		"question_id": b.Q2.ID,
		"option_ids":  []int64{b.No},
	}, admin)
	require.Equal(t, http.StatusOK, status, string(data))
	resolved := decode[ResolveResponse](t, data)
	assert.True(t, domain.MustGoTo(b.Q3.ID).Equal(resolved.Next))

	status, data = s.do(t, http.MethodPost, fmt.Sprintf("/surveys/%d/activate", b.Survey.ID), nil, admin)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, domain.SurveyActive, decode[domain.Survey](t, data).Status)

	status, data = s.do(t, http.MethodPost, fmt.Sprintf("/surveys/%d/responses", b.Survey.ID), nil, respondent)
	require.Equal(t, http.StatusCreated, status, string(data))
	resp := decode[domain.Response](t, data)
	assert.Equal(t, "bob", resp.RespondentID)

	answer := func(body map[string]any) (int, []byte) {
		return s.do(t, http.MethodPost, "/responses/"+resp.ID+"/answers", body, respondent)
	}
	status, data = answer(map[string]any{"question_id": b.Q2.ID, "option_ids": []int64{b.Yes}})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, engine.CodeQuestionNotCurrent, decode[errorEnvelope](t, data).Error.Code)

	status, data = answer(map[string]any{"question_id": b.Q1.ID, "value": "Bob"})
	require.Equal(t, http.StatusOK, status, string(data))
	status, data = answer(map[string]any{"question_id": b.Q2.ID, "option_ids": []int64{b.Yes}})
	require.Equal(t, http.StatusOK, status, string(data))
	result := decode[engine.AnswerResult](t, data)
	assert.True(t, result.Next.IsEnd())
	assert.True(t, result.Response.Completed())

	status, data = s.do(t, http.MethodGet, "/responses/"+resp.ID, nil, respondent)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Len(t, decode[ResponseDetail](t, data).Answers, 2)

	other := map[string]string{"X-Actor-Id": "mallory", "X-Actor-Roles": "respondent"}
	status, _ = s.do(t, http.MethodGet, "/responses/"+resp.ID, nil, other)
	assert.Equal(t, http.StatusForbidden, status)

	status, data = s.do(t, http.MethodGet, fmt.Sprintf("/events?survey_id=%d", b.Survey.ID), nil, admin)
	require.Equal(t, http.StatusOK, status, string(data))
	events := decode[paginatedEvents](t, data)
	require.NotEmpty(t, events.Items)
	assert.Equal(t, "response.completed", events.Items[0].Type)
}

func TestConfigureFlowNullClearsDeterminants(t *testing.T) {
	s := newTestServer(t, nil)
	b := buildSurvey(t, s)

	graph := func() engine.FlowGraphReport {
		status, data := s.do(t, http.MethodGet, fmt.Sprintf("/surveys/%d/flow/graph", b.Survey.ID), nil, admin)
		require.Equal(t, http.StatusOK, status, string(data))
		return decode[engine.FlowGraphReport](t, data)
	}
	before := graph()
	require.Len(t, before.Nodes, 3)
	require.Len(t, before.Nodes[0].Edges, 1)
	assert.Zero(t, before.Nodes[0].Fallbacks)
	require.Len(t, before.Nodes[1].Edges, 2)
	assert.Zero(t, before.Nodes[1].Fallbacks)

	configure(t, s, b.Survey.ID, b.Q1.ID, map[string]any{"default": nil}, http.StatusOK)
	configure(t, s, b.Survey.ID, b.Q2.ID, map[string]any{"options": []map[string]any{
		{"option_id": b.No, "next": nil},
	}}, http.StatusOK)

	after := graph()
	assert.Empty(t, after.Nodes[0].Edges)
	assert.Equal(t, 1, after.Nodes[0].Fallbacks)
	require.Len(t, after.Nodes[1].Edges, 1)
	assert.Equal(t, b.Yes, after.Nodes[1].Edges[0].OptionID)
	assert.Equal(t, 1, after.Nodes[1].Fallbacks)

	status, data := s.do(t, http.MethodGet, fmt.Sprintf("/surveys/%d", b.Survey.ID), nil, admin)
	require.Equal(t, http.StatusOK, status, string(data))
	stored := decode[domain.Survey](t, data)
	q1, ok := stored.Question(b.Q1.ID)
	require.True(t, ok)
	assert.Nil(t, q1.Next)
	q2, ok := stored.Question(b.Q2.ID)
	require.True(t, ok)
	no, ok := q2.Option(b.No)
	require.True(t, ok)
	assert.Nil(t, no.Next)
	yes, ok := q2.Option(b.Yes)
	require.True(t, ok)
	require.NotNil(t, yes.Next)
	assert.True(t, yes.Next.IsEnd())
}

func TestFlowErrorsCarryReasonCodes(t *testing.T) {
	s := newTestServer(t, nil)
	b := buildSurvey(t, s)

	data := configure(t, s, b.Survey.ID, b.Q1.ID, map[string]any{"default": goToBody(b.Q1.ID)}, http.StatusUnprocessableEntity)
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "self_reference", env.Error.Code)
	assert.Equal(t, "self_reference", env.Error.Details["reason"])
	assert.Equal(t, float64(b.Q1.ID), env.Error.Details["question_id"])

	data = configure(t, s, b.Survey.ID, b.Q1.ID, map[string]any{"default": map[string]any{"kind": "goto"}}, http.StatusBadRequest)
	assert.Equal(t, "invalid_determinant", decode[errorEnvelope](t, data).Error.Code)

	data = configure(t, s, b.Survey.ID, b.Q1.ID, map[string]any{"default": endBody, "expected_version": 1}, http.StatusConflict)
	assert.Equal(t, "stale_version", decode[errorEnvelope](t, data).Error.Code)

	// Q3 -> Q1 closes a loop; the draft write commits and activation is refused.
	data = configure(t, s, b.Survey.ID, b.Q3.ID, map[string]any{"default": goToBody(b.Q1.ID)}, http.StatusOK)
	res := decode[engine.FlowConfigResult](t, data)
	assert.False(t, res.Report.Valid)

	status, data := s.do(t, http.MethodPost, fmt.Sprintf("/surveys/%d/activate", b.Survey.ID), nil, admin)
	require.Equal(t, http.StatusUnprocessableEntity, status, string(data))
	env = decode[errorEnvelope](t, data)
	assert.Equal(t, "cycle_detected", env.Error.Code)
	assert.Equal(t, []any{float64(b.Q1.ID), float64(b.Q2.ID), float64(b.Q3.ID), float64(b.Q1.ID)}, env.Error.Details["cycle_path"])

	status, data = s.do(t, http.MethodPost, fmt.Sprintf("/surveys/%d/resolve", b.Survey.ID), map[string]any{"question_id": 9999}, admin)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_question", decode[errorEnvelope](t, data).Error.Code)

	status, _ = s.do(t, http.MethodGet, "/surveys/9999", nil, admin)
	assert.Equal(t, http.StatusNotFound, status)

	status, data = s.do(t, http.MethodDelete, fmt.Sprintf("/questions/%d", b.Q2.ID), nil, admin)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, engine.CodeQuestionInUse, decode[errorEnvelope](t, data).Error.Code)
}

func TestPermissions(t *testing.T) {
	s := newTestServer(t, nil)
	status, data := s.do(t, http.MethodPost, "/surveys", map[string]any{"title": "Nope"}, respondent)
	assert.Equal(t, http.StatusForbidden, status)
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, config.PermSurveyWrite, env.Error.Details["permission"])

	status, data = s.do(t, http.MethodGet, "/me", nil, respondent)
	require.Equal(t, http.StatusOK, status)
	me := decode[WhoAmIResponse](t, data)
	assert.Equal(t, "bob", me.ActorID)
	assert.ElementsMatch(t, []string{config.PermSurveyRead, config.PermResponseWrite}, me.Permissions)
}

func TestActorHeaderDisabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Auth.AllowActorHeader = false })
	status, _ := s.do(t, http.MethodGet, "/surveys", nil, admin)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDevTokenAndAPIKey(t *testing.T) {
	s := newTestServer(t, nil)
	status, data := s.do(t, http.MethodPost, "/auth/dev/token", map[string]any{"actor_id": "carol", "roles": []string{"editor"}}, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	token := decode[DevTokenResponse](t, data).Token
	require.NotEmpty(t, token)

	bearer := map[string]string{"Authorization": "Bearer " + token}
	status, data = s.do(t, http.MethodPost, "/surveys", map[string]any{"title": "By token"}, bearer)
	require.Equal(t, http.StatusCreated, status, string(data))
	assert.Equal(t, "carol", decode[domain.Survey](t, data).CreatedBy)

	status, _ = s.do(t, http.MethodGet, "/surveys", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, status)

	_, plaintext, err := s.Engine.CreateAPIKey(context.Background(), engine.APIKeyCreateOptions{ActorID: "chatbot", Roles: []string{"respondent"}})
	require.NoError(t, err)
	status, data = s.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": plaintext})
	require.Equal(t, http.StatusOK, status, string(data))
	me := decode[WhoAmIResponse](t, data)
	assert.Equal(t, "chatbot", me.ActorID)
	assert.Equal(t, "api_key", me.Source)

	status, _ = s.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": "sf_wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDevTokensDisabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Auth.AllowDevTokens = false })
	status, _ := s.do(t, http.MethodPost, "/auth/dev/token", map[string]any{"actor_id": "carol"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestImportExportOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	yamlDoc := []byte("title: Quick\nquestions:\n  - key: a\n    type: text\n    text: Hello?\n    next: end\n")
	status, data := s.do(t, http.MethodPost, "/surveys/import", yamlDoc, admin)
	require.Equal(t, http.StatusCreated, status, string(data))
	imported := decode[engine.ImportResult](t, data)
	assert.True(t, imported.Report.Valid)

	status, data = s.do(t, http.MethodGet, fmt.Sprintf("/surveys/%d/export", imported.Survey.ID), nil, admin)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), "title: Quick")
	assert.Contains(t, string(data), "next: end")
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan *http.Request, 10)
	bodies := make(chan webhookEvent, 10)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		received <- r
		bodies <- evt
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	s := newTestServer(t, func(c *config.Config) {
		c.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"survey.created"}, Secret: "shh"}}
	})
	d := NewWebhookDispatcher(s.Engine, quietLogger())
	require.NotNil(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.pool = workerpool.NewWorkerPool(ctx, 1, 10, quietLogger())
	d.dispatchAll(ctx)

	status, data := s.do(t, http.MethodPost, "/surveys", map[string]any{"title": "Hooked"}, admin)
	require.Equal(t, http.StatusCreated, status, string(data))
	d.dispatchAll(ctx)

	select {
	case r := <-received:
		assert.Equal(t, "survey.created", r.Header.Get("X-Surveyflow-Event"))
		assert.Equal(t, "shh", r.Header.Get("X-Surveyflow-Secret"))
		evt := <-bodies
		assert.Equal(t, "survey", evt.EntityKind)
		assert.Equal(t, "alice", evt.ActorID)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestNoDispatcherWithoutHooks(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Nil(t, NewWebhookDispatcher(s.Engine, nil))
}

func TestEventFilter(t *testing.T) {
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{" "}).match("anything"))
	f := newEventFilter([]string{"response.completed"})
	assert.True(t, f.match("response.completed"))
	assert.False(t, f.match("survey.created"))
}
