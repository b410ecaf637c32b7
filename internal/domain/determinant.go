package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DeterminantKind names the outcome variant of a Determinant.
type DeterminantKind string

const (
	KindGoTo DeterminantKind = "goto"
	KindEnd  DeterminantKind = "end"
)

var ErrInvalidDeterminant = errors.New("invalid determinant")

// Determinant describes what happens after an answer: continue to a specific
// question or end the survey. Values are only obtainable through GoToQuestion,
// EndSurvey or NewDeterminant; the zero value is not a valid determinant and is
// never interpreted as "end of survey".
type Determinant struct {
	kind       DeterminantKind
	questionID int64
}

// GoToQuestion returns a determinant continuing to questionID, which must be positive.
func GoToQuestion(questionID int64) (Determinant, error) {
	if questionID <= 0 {
		return Determinant{}, fmt.Errorf("%w: goto requires a positive question id, got %d", ErrInvalidDeterminant, questionID)
	}
	return Determinant{kind: KindGoTo, questionID: questionID}, nil
}

// MustGoTo is GoToQuestion for ids known to be valid. It panics otherwise.
func MustGoTo(questionID int64) Determinant {
	d, err := GoToQuestion(questionID)
	if err != nil {
		panic(err)
	}
	return d
}

// EndSurvey returns the determinant that ends the survey.
func EndSurvey() Determinant {
	return Determinant{kind: KindEnd}
}

// NewDeterminant builds a determinant from its wire/storage shape. A goto needs a
// positive question id and an end must not carry one.
func NewDeterminant(kind DeterminantKind, questionID *int64) (Determinant, error) {
	switch kind {
	case KindGoTo:
		if questionID == nil {
			return Determinant{}, fmt.Errorf("%w: goto requires a question id", ErrInvalidDeterminant)
		}
		return GoToQuestion(*questionID)
	case KindEnd:
		if questionID != nil {
			return Determinant{}, fmt.Errorf("%w: end does not take a question id", ErrInvalidDeterminant)
		}
		return EndSurvey(), nil
	default:
		return Determinant{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDeterminant, kind)
	}
}

func (d Determinant) Kind() DeterminantKind { return d.kind }

// Valid reports whether d was built through one of the constructors.
func (d Determinant) Valid() bool {
	switch d.kind {
	case KindGoTo:
		return d.questionID > 0
	case KindEnd:
		return d.questionID == 0
	default:
		return false
	}
}

func (d Determinant) IsEnd() bool { return d.kind == KindEnd }

// Target returns the question a goto continues to.
func (d Determinant) Target() (int64, bool) {
	if d.kind == KindGoTo && d.questionID > 0 {
		return d.questionID, true
	}
	return 0, false
}

func (d Determinant) Equal(other Determinant) bool { return d == other }

func (d Determinant) String() string {
	switch {
	case !d.Valid():
		return "invalid"
	case d.IsEnd():
		return "end"
	default:
		return fmt.Sprintf("goto:%d", d.questionID)
	}
}

type determinantJSON struct {
	Kind       DeterminantKind `json:"kind"`
	QuestionID *int64          `json:"question_id,omitempty"`
}

func (d Determinant) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, ErrInvalidDeterminant
	}
	out := determinantJSON{Kind: d.kind}
	if id, ok := d.Target(); ok {
		out.QuestionID = &id
	}
	return json.Marshal(out)
}

func (d *Determinant) UnmarshalJSON(data []byte) error {
	var in determinantJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parsed, err := NewDeterminant(in.Kind, in.QuestionID)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
