package surveyfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflow/internal/domain"
)

const feedback = `title: Customer feedback
questions:
  - key: intro
    type: text
    text: What brought you here?
    next: recommend
  - key: recommend
    type: single_choice
    text: Would you recommend us?
    options:
      - text: "Yes"
        next: end
      - text: "No"
        next: why
  - key: why
    type: text
    text: Why not?
    constraint: len(answer) > 3
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(feedback))
	require.NoError(t, err)
	assert.Equal(t, "Customer feedback", f.Title)
	require.Len(t, f.Questions, 3)
	assert.Equal(t, "recommend", f.Questions[0].Next)
	assert.Equal(t, End, f.Questions[1].Options[0].Next)
	assert.Equal(t, "len(answer) > 3", f.Questions[2].Constraint)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "title: x\nquestions:\n  - key: a\n    type: text\n    text: t\n    color: red\n",
		"missing title":   "questions:\n  - key: a\n    type: text\n    text: t\n",
		"duplicate key":   "title: x\nquestions:\n  - {key: a, type: text, text: t}\n  - {key: a, type: text, text: t}\n",
		"reserved key":    "title: x\nquestions:\n  - {key: end, type: text, text: t}\n",
		"unknown next":    "title: x\nquestions:\n  - {key: a, type: text, text: t, next: b}\n",
		"self next":       "title: x\nquestions:\n  - {key: a, type: text, text: t, next: a}\n",
		"bad type":        "title: x\nquestions:\n  - {key: a, type: matrix, text: t}\n",
		"options on text": "title: x\nquestions:\n  - key: a\n    type: text\n    text: t\n    options: [{text: o}]\n",
		"branching multi": "title: x\nquestions:\n  - key: a\n    type: multiple_choice\n    text: t\n    options: [{text: o, next: end}]\n",
		"no questions":    "title: x\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestDeterminant(t *testing.T) {
	ids := map[string]int64{"why": 12}
	d, err := Determinant("why", ids)
	require.NoError(t, err)
	assert.True(t, domain.MustGoTo(12).Equal(*d))

	d, err = Determinant(End, ids)
	require.NoError(t, err)
	assert.True(t, d.IsEnd())

	d, err = Determinant("", ids)
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = Determinant("missing", ids)
	assert.Error(t, err)
}

func TestFromSurveyUsesOrderKeys(t *testing.T) {
	end := domain.EndSurvey()
	to30 := domain.MustGoTo(30)
	s := domain.Survey{ID: 1, Title: "T", Questions: []domain.Question{
		{ID: 30, Position: 2, Type: domain.QuestionText, Text: "b", Next: &end},
		{ID: 10, Position: 1, Type: domain.QuestionRating, Text: "a", Options: []domain.Option{
			{ID: 2, Position: 2, Text: "5", Next: &to30},
			{ID: 1, Position: 1, Text: "1", Next: &end},
		}},
	}}
	f, err := FromSurvey(s)
	require.NoError(t, err)
	require.Len(t, f.Questions, 2)
	assert.Equal(t, "q1", f.Questions[0].Key)
	assert.Equal(t, []Option{{Text: "1", Next: End}, {Text: "5", Next: "q2"}}, f.Questions[0].Options)
	assert.Equal(t, End, f.Questions[1].Next)

	data, err := Marshal(f)
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, f, back)
}
