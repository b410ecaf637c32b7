package flow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind groups flow errors by who has to act on them.
type Kind int

const (
	// KindConfiguration is an invalid determinant write; rejected at the write boundary.
	KindConfiguration Kind = iota + 1
	// KindCycle blocks activation and always carries a cycle path.
	KindCycle
	// KindUnreachableCompletion blocks activation: no question leads to the end.
	KindUnreachableCompletion
	// KindResolutionInput is a caller fault when resolving the next question.
	KindResolutionInput
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCycle:
		return "cycle"
	case KindUnreachableCompletion:
		return "unreachable_completion"
	case KindResolutionInput:
		return "resolution_input"
	default:
		return "unknown"
	}
}

// Code is the machine-checkable reason carried by errors and validation results.
type Code string

const (
	CodeSelfReference        Code = "self_reference"
	CodeCrossSurveyReference Code = "cross_survey_reference"
	CodeInvalidDeterminant   Code = "invalid_determinant"
	CodeOptionNotBranching   Code = "option_not_branching"
	CodeOptionNotInQuestion  Code = "option_not_in_question"
	CodeDuplicateQuestion    Code = "duplicate_question"
	CodeCycleDetected        Code = "cycle_detected"
	CodeNoCompletionPath     Code = "no_completion_path"
	CodeUnknownQuestion      Code = "unknown_question"
	CodeOptionsNotSupported  Code = "options_not_supported"
)

// Error is returned for every flow failure scoped to one survey configuration or
// one resolution call.
type Error struct {
	Kind       Kind
	Code       Code
	Message    string
	SurveyID   int64
	QuestionID int64
	OptionID   int64
	// CyclePath lists question ids along the loop; first and last are equal.
	CyclePath []int64
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.CyclePath) > 0 {
		msg += " (" + FormatPath(e.CyclePath) + ")"
	}
	return msg
}

// FormatPath renders a question id path as "1 -> 2 -> 1".
func FormatPath(path []int64) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, " -> ")
}

func newError(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into a *Error.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func isKind(err error, kind Kind) bool {
	fe, ok := AsError(err)
	return ok && fe.Kind == kind
}

func IsConfigurationError(err error) bool { return isKind(err, KindConfiguration) }
func IsCycleError(err error) bool { return isKind(err, KindCycle) }
func IsUnreachableCompletion(err error) bool { return isKind(err, KindUnreachableCompletion) }
func IsResolutionInputError(err error) bool { return isKind(err, KindResolutionInput) }
