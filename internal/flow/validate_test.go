package flow

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflow/internal/domain"
)

func TestValidateScenarioA(t *testing.T) {
	s := newSurvey(
		text(1, goTo(2)),
		choice(2, domain.QuestionSingleChoice, nil, opt(21, end()), opt(22, goTo(3))),
		text(3, end()),
	)
	res, err := ValidateSurvey(s)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
	assert.Equal(t, []int64{2, 3}, res.Endpoints)
	assert.NoError(t, res.Err(s.ID))
}

func TestValidateScenarioB(t *testing.T) {
	s := newSurvey(
		text(1, goTo(2)),
		text(2, goTo(3)),
		text(3, goTo(1)),
	)
	res, err := ValidateSurvey(s)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeCycleDetected, res.Reason)
	assert.Equal(t, []int64{1, 2, 3, 1}, res.CyclePath)

	verr := res.Err(s.ID)
	require.Error(t, verr)
	assert.True(t, IsCycleError(verr))
	fe, ok := AsError(verr)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3, 1}, fe.CyclePath)
	assert.Contains(t, verr.Error(), "1 -> 2 -> 3 -> 1")
}

func TestValidateSelfReference(t *testing.T) {
	t.Run("single question", func(t *testing.T) {
		res, err := ValidateSurvey(newSurvey(text(1, goTo(1))))
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, CodeSelfReference, res.Reason)
		assert.Equal(t, []int64{1, 1}, res.CyclePath)
		assert.True(t, IsConfigurationError(res.Err(testSurveyID)))
	})
	t.Run("option edge", func(t *testing.T) {
		s := newSurvey(
			text(1, goTo(2)),
			choice(2, domain.QuestionRating, nil, opt(21, end()), opt(22, goTo(2))),
		)
		res, err := ValidateSurvey(s)
		require.NoError(t, err)
		assert.Equal(t, CodeSelfReference, res.Reason)
		assert.Equal(t, []int64{2, 2}, res.CyclePath)
	})
	t.Run("reported before a longer cycle", func(t *testing.T) {
		s := newSurvey(
			text(1, goTo(2)),
			text(2, goTo(1)),
			text(3, goTo(3)),
		)
		res, err := ValidateSurvey(s)
		require.NoError(t, err)
		assert.Equal(t, CodeSelfReference, res.Reason)
	})
}

func TestValidateNoCompletionPath(t *testing.T) {
	t.Run("last question continues backwards", func(t *testing.T) {
		s := newSurvey(
			text(1, nil),
			text(2, goTo(3)),
			text(3, goTo(1)),
		)
		res, err := ValidateSurvey(s)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, CodeNoCompletionPath, res.Reason)
		assert.Empty(t, res.CyclePath)
		assert.True(t, IsUnreachableCompletion(res.Err(testSurveyID)))
	})
	t.Run("options loop back", func(t *testing.T) {
		s := newSurvey(
			choice(1, domain.QuestionSingleChoice, nil, opt(11, goTo(2)), opt(12, goTo(2))),
			text(2, goTo(1)),
		)
		res, err := ValidateSurvey(s)
		require.NoError(t, err)
		assert.Equal(t, CodeCycleDetected, res.Reason)
	})
	t.Run("empty survey", func(t *testing.T) {
		res, err := ValidateSurvey(newSurvey())
		require.NoError(t, err)
		assert.Equal(t, CodeNoCompletionPath, res.Reason)
	})
}

func TestValidateImplicitEndpoint(t *testing.T) {
	res, err := ValidateSurvey(newSurvey(text(1, nil), text(2, nil)))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, []int64{2}, res.Endpoints)

	// A branching last question with an unconfigured option falls back to the end.
	res, err = ValidateSurvey(newSurvey(
		text(1, nil),
		choice(2, domain.QuestionSingleChoice, nil, opt(21, goTo(1)), opt(22, nil)),
	))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, []int64{2}, res.Endpoints)
}

func TestValidateMultipleChoiceIgnoresOptionDeterminants(t *testing.T) {
	s := newSurvey(
		choice(1, domain.QuestionMultipleChoice, goTo(2), opt(11, goTo(1)), opt(12, end())),
		text(2, end()),
	)
	g, err := Build(s)
	require.NoError(t, err)
	n := g.Node(0)
	require.Len(t, n.Edges, 1)
	assert.Zero(t, n.Edges[0].OptionID)

	res := Validate(g)
	assert.True(t, res.Valid)
	assert.Equal(t, []int64{2}, res.Endpoints)
}

func TestValidateIsIdempotent(t *testing.T) {
	s := newSurvey(
		text(1, goTo(2)),
		text(2, goTo(3)),
		text(3, goTo(1)),
	)
	g, err := Build(s)
	require.NoError(t, err)
	first := Validate(g)
	second := Validate(g)
	assert.Equal(t, first, second)

	s = newSurvey(text(1, goTo(2)), text(2, end()))
	a, err := ValidateSurvey(s)
	require.NoError(t, err)
	b, err := ValidateSurvey(s)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestValidateWarnings(t *testing.T) {
	t.Run("all options end", func(t *testing.T) {
		s := newSurvey(
			text(1, goTo(2)),
			choice(2, domain.QuestionSingleChoice, nil, opt(21, end()), opt(22, end())),
		)
		res, err := ValidateSurvey(s)
		require.NoError(t, err)
		require.True(t, res.Valid)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, WarnAllOptionsEnd, res.Warnings[0].Code)
		assert.Equal(t, int64(2), res.Warnings[0].QuestionID)
	})
	t.Run("sequential loop", func(t *testing.T) {
		s := newSurvey(
			text(1, nil),
			text(2, goTo(1)),
			text(3, nil),
		)
		res, err := ValidateSurvey(s)
		require.NoError(t, err)
		require.True(t, res.Valid)
		var codes []WarningCode
		for _, w := range res.Warnings {
			codes = append(codes, w.Code)
			if w.Code == WarnSequentialLoop {
				assert.Equal(t, []int64{1, 2, 1}, w.Path)
			}
		}
		assert.Contains(t, codes, WarnSequentialLoop)
		assert.Contains(t, codes, WarnUnreachableQuestion)
	})
	t.Run("unreachable question", func(t *testing.T) {
		s := newSurvey(
			text(1, goTo(3)),
			text(2, end()),
			text(3, end()),
		)
		res, err := ValidateSurvey(s)
		require.NoError(t, err)
		require.True(t, res.Valid)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, WarnUnreachableQuestion, res.Warnings[0].Code)
		assert.Equal(t, int64(2), res.Warnings[0].QuestionID)
	})
}

func TestBuildRejectsUnrepresentableEdges(t *testing.T) {
	t.Run("target outside survey", func(t *testing.T) {
		_, err := Build(newSurvey(text(1, goTo(99))))
		require.Error(t, err)
		fe, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, CodeCrossSurveyReference, fe.Code)
		assert.Equal(t, int64(1), fe.QuestionID)
	})
	t.Run("zero value determinant", func(t *testing.T) {
		_, err := Build(newSurvey(text(1, &domain.Determinant{})))
		require.Error(t, err)
		fe, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, CodeInvalidDeterminant, fe.Code)
	})
	t.Run("duplicate question", func(t *testing.T) {
		_, err := Build(newSurvey(text(1, nil), text(1, nil)))
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})
	t.Run("question from another survey", func(t *testing.T) {
		s := newSurvey(text(1, nil))
		s.Questions[0].SurveyID = 2
		_, err := Build(s)
		require.Error(t, err)
		fe, _ := AsError(err)
		assert.Equal(t, CodeCrossSurveyReference, fe.Code)
	})
}

func TestBuildEdgeRule(t *testing.T) {
	s := newSurvey(
		choice(1, domain.QuestionSingleChoice, goTo(3), opt(11, goTo(2)), opt(12, nil)),
		choice(2, domain.QuestionSingleChoice, nil, opt(21, end()), opt(22, nil)),
		text(3, nil),
	)
	g, err := Build(s)
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	first := g.Node(0)
	require.Len(t, first.Edges, 2)
	assert.Equal(t, int64(11), first.Edges[0].OptionID)
	assert.False(t, first.Edges[0].Inherited)
	assert.Equal(t, int64(12), first.Edges[1].OptionID)
	assert.True(t, first.Edges[1].Inherited)
	assert.Zero(t, first.Fallbacks)

	second := g.Node(1)
	require.Len(t, second.Edges, 1)
	assert.Equal(t, g.End(), second.Edges[0].To)
	assert.Equal(t, 1, second.Fallbacks)

	third := g.Node(2)
	assert.Empty(t, third.Edges)
	assert.True(t, third.Last)

	view := g.View()
	require.Len(t, view, 3)
	assert.True(t, view[1].Edges[0].Next.IsEnd())
}

// Random surveys mixing text and single-choice questions: every detected cycle
// must be a walk over edges the nodes actually have, and acyclic graphs with an
// endpoint must validate.
func TestValidateRandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomNext := func(n int) *domain.Determinant {
		switch rng.Intn(4) {
		case 0:
			return nil
		case 1:
			return end()
		default:
			return goTo(int64(1 + rng.Intn(n)))
		}
	}
	branching := 0
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(8)
		qs := make([]domain.Question, n)
		for i := range qs {
			id := int64(i + 1)
			if rng.Intn(2) == 0 {
				qs[i] = text(id, randomNext(n))
				continue
			}
			branching++
			opts := make([]domain.Option, 1+rng.Intn(3))
			for j := range opts {
				opts[j] = opt(id*100+int64(j), randomNext(n))
			}
			qs[i] = choice(id, domain.QuestionSingleChoice, randomNext(n), opts...)
		}
		s := newSurvey(qs...)
		targets := questionTargets(s)
		res, err := ValidateSurvey(s)
		require.NoError(t, err)

		switch {
		case hasSelfLoop(targets):
			require.Equal(t, CodeSelfReference, res.Reason, "round %d", round)
		case hasCycle(targets):
			require.Equal(t, CodeCycleDetected, res.Reason, "round %d", round)
			path := res.CyclePath
			require.GreaterOrEqual(t, len(path), 3)
			require.Equal(t, path[0], path[len(path)-1])
			for i := 0; i+1 < len(path); i++ {
				require.Contains(t, targets[path[i]], path[i+1], "round %d: %v is not a real edge", round, path[i:i+2])
			}
		case len(Endpoints(mustBuild(t, s))) > 0:
			require.True(t, res.Valid, "round %d: %+v", round, res)
		default:
			require.Equal(t, CodeNoCompletionPath, res.Reason, "round %d", round)
		}
	}
	require.Positive(t, branching)
}

// questionTargets lists the goto targets of every question: one per option of a
// branching question (own determinant, else the default), else the default.
func questionTargets(s domain.Survey) map[int64][]int64 {
	out := make(map[int64][]int64, len(s.Questions))
	add := func(from int64, d *domain.Determinant) {
		if d == nil {
			return
		}
		if to, ok := d.Target(); ok {
			out[from] = append(out[from], to)
		}
	}
	for _, q := range s.Questions {
		if !q.Branches() || len(q.Options) == 0 {
			add(q.ID, q.Next)
			continue
		}
		for _, o := range q.Options {
			if o.Next != nil {
				add(q.ID, o.Next)
			} else {
				add(q.ID, q.Next)
			}
		}
	}
	return out
}

func mustBuild(t *testing.T, s domain.Survey) *Graph {
	t.Helper()
	g, err := Build(s)
	require.NoError(t, err)
	return g
}

func hasSelfLoop(targets map[int64][]int64) bool {
	for from, tos := range targets {
		for _, to := range tos {
			if from == to {
				return true
			}
		}
	}
	return false
}

// hasCycle runs a colouring depth-first search over targets.
func hasCycle(targets map[int64][]int64) bool {
	const (
		white = iota
		grey
		black
	)
	colour := map[int64]int{}
	var visit func(u int64) bool
	visit = func(u int64) bool {
		colour[u] = grey
		for _, v := range targets[u] {
			switch colour[v] {
			case grey:
				return true
			case white:
				if visit(v) {
					return true
				}
			}
		}
		colour[u] = black
		return false
	}
	for u := range targets {
		if colour[u] == white && visit(u) {
			return true
		}
	}
	return false
}
