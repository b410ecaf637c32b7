package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflow/internal/db"
	"surveyflow/internal/domain"
	"surveyflow/internal/fault"
	"surveyflow/internal/migrate"
)

const now = "2024-05-01T10:00:00Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return Repo{DB: conn}
}

func seedSurvey(t *testing.T, r Repo) (surveyID int64, questionIDs []int64) {
	t.Helper()
	ctx := context.Background()
	surveyID, err := r.InsertSurvey(ctx, nil, domain.Survey{Title: "NPS", Status: domain.SurveyDraft, CreatedBy: "alice", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	for i, typ := range []domain.QuestionType{domain.QuestionText, domain.QuestionSingleChoice, domain.QuestionText} {
		id, err := r.InsertQuestion(ctx, nil, domain.Question{SurveyID: surveyID, Position: i + 1, Type: typ, Text: "q"})
		require.NoError(t, err)
		questionIDs = append(questionIDs, id)
	}
	return surveyID, questionIDs
}

func TestLoadSurveySnapshot(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	surveyID, qs := seedSurvey(t, r)

	yes, err := r.InsertOption(ctx, nil, surveyID, domain.Option{QuestionID: qs[1], Position: 1, Text: "Yes", Next: ptr(domain.EndSurvey())})
	require.NoError(t, err)
	no, err := r.InsertOption(ctx, nil, surveyID, domain.Option{QuestionID: qs[1], Position: 2, Text: "No", Next: ptr(domain.MustGoTo(qs[2]))})
	require.NoError(t, err)
	require.NoError(t, r.SetQuestionNext(ctx, nil, qs[0], ptr(domain.MustGoTo(qs[1]))))

	s, err := r.LoadSurvey(ctx, nil, surveyID)
	require.NoError(t, err)
	require.Len(t, s.Questions, 3)
	assert.Equal(t, "alice", s.CreatedBy)
	assert.True(t, domain.MustGoTo(qs[1]).Equal(*s.Questions[0].Next))
	assert.Nil(t, s.Questions[2].Next)
	require.Len(t, s.Questions[1].Options, 2)
	assert.Equal(t, yes, s.Questions[1].Options[0].ID)
	assert.True(t, s.Questions[1].Options[0].Next.IsEnd())
	assert.Equal(t, no, s.Questions[1].Options[1].ID)

	require.NoError(t, r.SetOptionNext(ctx, nil, no, nil))
	o, owner, err := r.GetOption(ctx, nil, no)
	require.NoError(t, err)
	assert.Equal(t, surveyID, owner)
	assert.Nil(t, o.Next)

	_, err = r.LoadSurvey(ctx, nil, 999)
	assert.True(t, errors.Is(err, fault.ErrNotFound))
}

func TestTouchSurveyDetectsStaleVersion(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	surveyID, _ := seedSurvey(t, r)

	v, err := r.TouchSurvey(ctx, nil, surveyID, 1, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = r.TouchSurvey(ctx, nil, surveyID, 1, now)
	assert.ErrorIs(t, err, fault.ErrStaleVersion)

	v, err = r.TouchSurvey(ctx, nil, surveyID, 0, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = r.TouchSurvey(ctx, nil, 404, 0, now)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestStorageConstraintsMapToFaults(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	surveyID, qs := seedSurvey(t, r)
	otherID, others := seedSurvey(t, r)
	require.NotEqual(t, surveyID, otherID)

	// cross-survey target
	err := r.SetQuestionNext(ctx, nil, qs[0], ptr(domain.MustGoTo(others[0])))
	assert.ErrorIs(t, err, fault.ErrForeignKeyViolation)

	// referenced question cannot be deleted
	require.NoError(t, r.SetQuestionNext(ctx, nil, qs[0], ptr(domain.MustGoTo(qs[2]))))
	err = r.DeleteQuestion(ctx, nil, qs[2])
	assert.ErrorIs(t, err, fault.ErrForeignKeyViolation)
	refs, err := r.QuestionReferences(ctx, nil, qs[2])
	require.NoError(t, err)
	assert.Equal(t, []int64{qs[0]}, refs)

	// raw malformed shape bypassing the domain constructors
	_, err = r.DB.ExecContext(ctx, `UPDATE questions SET next_kind='goto', next_question_id=NULL WHERE id=?`, qs[1])
	assert.ErrorIs(t, mapErr(err), fault.ErrCheckViolation)

	// deleting the survey cascades through its questions
	require.NoError(t, r.DeleteSurvey(ctx, nil, surveyID))
	_, err = r.GetQuestion(ctx, nil, qs[0])
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestZeroValueDeterminantIsNeverStored(t *testing.T) {
	r := newTestRepo(t)
	_, qs := seedSurvey(t, r)
	err := r.SetQuestionNext(context.Background(), nil, qs[0], &domain.Determinant{})
	assert.ErrorIs(t, err, domain.ErrInvalidDeterminant)
}

func TestResponsesAndAnswers(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	surveyID, qs := seedSurvey(t, r)

	resp := domain.Response{ID: "r-1", SurveyID: surveyID, RespondentID: "bob", CurrentQuestionID: &qs[0], StartedAt: now, UpdatedAt: now}
	require.NoError(t, r.InsertResponse(ctx, nil, resp))

	require.NoError(t, r.InsertAnswer(ctx, nil, domain.Answer{ResponseID: "r-1", QuestionID: qs[0], Value: "hi", Next: domain.MustGoTo(qs[1]), CreatedAt: now}))
	require.NoError(t, r.AdvanceResponse(ctx, nil, "r-1", qs[0], &qs[1], now))
	// stale current question
	assert.ErrorIs(t, r.AdvanceResponse(ctx, nil, "r-1", qs[0], &qs[2], now), fault.ErrNotFound)

	require.NoError(t, r.InsertAnswer(ctx, nil, domain.Answer{ResponseID: "r-1", QuestionID: qs[1], OptionIDs: []int64{7}, Next: domain.EndSurvey(), CreatedAt: now}))
	require.NoError(t, r.AdvanceResponse(ctx, nil, "r-1", qs[1], nil, now))

	got, err := r.GetResponse(ctx, nil, "r-1")
	require.NoError(t, err)
	assert.True(t, got.Completed())
	assert.Nil(t, got.CurrentQuestionID)

	answers, err := r.ListAnswers(ctx, nil, "r-1")
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "hi", answers[0].Value)
	assert.Equal(t, []int64{7}, answers[1].OptionIDs)
	assert.True(t, answers[1].Next.IsEnd())
}

func TestAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	hash := HashAPIKey("secret ")
	assert.Equal(t, HashAPIKey("secret"), hash)

	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "bot", Roles: []string{"respondent"}, KeyHash: hash}))
	err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k2", ActorID: "bot", KeyHash: hash})
	assert.ErrorIs(t, err, fault.ErrUniqueViolation)

	key, err := r.GetAPIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"respondent"}, key.Roles)

	keys, err := r.ListAPIKeys(ctx, "bot")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), fault.ErrNotFound)
}

func ptr[T any](v T) *T { return &v }
