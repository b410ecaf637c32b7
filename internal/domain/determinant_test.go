package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestGoToQuestionRejectsNonPositiveIDs(t *testing.T) {
	for _, id := range []int64{0, -1, -42} {
		_, err := GoToQuestion(id)
		require.ErrorIs(t, err, ErrInvalidDeterminant, "id %d", id)
	}
	d, err := GoToQuestion(7)
	require.NoError(t, err)
	target, ok := d.Target()
	assert.True(t, ok)
	assert.Equal(t, int64(7), target)
	assert.False(t, d.IsEnd())
}

func TestNewDeterminantShapes(t *testing.T) {
	tests := []struct {
		name    string
		kind    DeterminantKind
		id      *int64
		want    Determinant
		wantErr bool
	}{
		{name: "goto", kind: KindGoTo, id: int64Ptr(3), want: MustGoTo(3)},
		{name: "end", kind: KindEnd, want: EndSurvey()},
		{name: "goto without id", kind: KindGoTo, wantErr: true},
		{name: "goto zero", kind: KindGoTo, id: int64Ptr(0), wantErr: true},
		{name: "end with id", kind: KindEnd, id: int64Ptr(3), wantErr: true},
		{name: "end with zero id", kind: KindEnd, id: int64Ptr(0), wantErr: true},
		{name: "unknown kind", kind: "skip", id: int64Ptr(3), wantErr: true},
		{name: "empty kind", kind: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDeterminant(tt.kind, tt.id)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDeterminant)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want))
		})
	}
}

func TestDeterminantEqualityIsStructural(t *testing.T) {
	assert.True(t, MustGoTo(5).Equal(MustGoTo(5)))
	assert.False(t, MustGoTo(5).Equal(MustGoTo(6)))
	assert.True(t, EndSurvey().Equal(EndSurvey()))
	assert.False(t, EndSurvey().Equal(MustGoTo(1)))
}

// A bare zero must never mean "end of survey".
func TestZeroValueIsNotEndOfSurvey(t *testing.T) {
	var zero Determinant
	assert.False(t, zero.Valid())
	assert.False(t, zero.IsEnd())
	_, ok := zero.Target()
	assert.False(t, ok)
	assert.False(t, zero.Equal(EndSurvey()))
	assert.Equal(t, "invalid", zero.String())

	_, err := json.Marshal(zero)
	require.Error(t, err)

	var decoded Determinant
	require.Error(t, json.Unmarshal([]byte(`{"kind":"goto","question_id":0}`), &decoded))
	require.Error(t, json.Unmarshal([]byte(`{"kind":"goto"}`), &decoded))
	require.Error(t, json.Unmarshal([]byte(`{}`), &decoded))
	require.Error(t, json.Unmarshal([]byte(`{"kind":"end","question_id":4}`), &decoded))
}

func TestDeterminantJSON(t *testing.T) {
	data, err := json.Marshal(MustGoTo(12))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"goto","question_id":12}`, string(data))

	data, err = json.Marshal(EndSurvey())
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"end"}`, string(data))

	var d Determinant
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"goto","question_id":12}`), &d))
	assert.True(t, d.Equal(MustGoTo(12)))
}

func TestQuestionTypeBranches(t *testing.T) {
	assert.True(t, QuestionSingleChoice.Branches())
	assert.True(t, QuestionRating.Branches())
	assert.False(t, QuestionMultipleChoice.Branches())
	assert.False(t, QuestionText.Branches())
	assert.False(t, QuestionType("bogus").Branches())

	_, err := ParseQuestionType("bogus")
	require.Error(t, err)
	qt, err := ParseQuestionType("rating")
	require.NoError(t, err)
	assert.Equal(t, QuestionRating, qt)
}

func TestSurveyOrdered(t *testing.T) {
	s := Survey{Questions: []Question{
		{ID: 3, Position: 2},
		{ID: 1, Position: 1},
		{ID: 2, Position: 1},
	}}
	ordered := s.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{ordered[0].ID, ordered[1].ID, ordered[2].ID})
	first, ok := s.First()
	require.True(t, ok)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(3), s.Questions[0].ID, "Ordered must not reorder the survey in place")
}
