// Package answer checks a submitted answer against its question: the selection
// shape the question type allows and the optional constraint expression.
package answer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"surveyflow/internal/domain"
	"surveyflow/internal/fault"
)

// Client error codes.
const (
	CodeSelectionRequired = "selection_required"
	CodeSingleSelection   = "single_selection"
	CodeDuplicateOption   = "duplicate_option"
	CodeAnswerTooLong     = "answer_too_long"
	CodeInvalidConstraint = "invalid_constraint"
	CodeConstraintFailed  = "constraint_failed"
)

// Submission is one answer as sent by a respondent.
type Submission struct {
	OptionIDs []int64
	Value     string
}

// env is the constraint environment; keys are the names expressions see.
func env(s Submission) map[string]any {
	value := strings.TrimSpace(s.Value)
	number, err := strconv.ParseFloat(value, 64)
	return map[string]any{
		"answer":   value,
		"number":   number,
		"numeric":  err == nil,
		"selected": len(s.OptionIDs),
	}
}

// Compile type-checks a constraint. It must evaluate to a bool.
func Compile(expression string) (*vm.Program, error) {
	program, err := expr.Compile(expression, expr.Env(env(Submission{})), expr.AsBool())
	if err != nil {
		return nil, fault.NewClientError(CodeInvalidConstraint, fmt.Sprintf("invalid constraint %q", expression), err)
	}
	return program, nil
}

// Evaluate runs expression against s.
func Evaluate(expression string, s Submission) (bool, error) {
	program, err := Compile(expression)
	if err != nil {
		return false, err
	}
	output, err := expr.Run(program, env(s))
	if err != nil {
		return false, err
	}
	result, ok := output.(bool)
	if !ok {
		return false, errors.New("expression did not return a boolean")
	}
	return result, nil
}

// Check validates s against q. maxLen <= 0 disables the length limit.
// Options that do not belong to q are left to the flow resolver.
func Check(q domain.Question, s Submission, maxLen int) error {
	seen := make(map[int64]struct{}, len(s.OptionIDs))
	for _, id := range s.OptionIDs {
		if _, dup := seen[id]; dup {
			return fault.Clientf(CodeDuplicateOption, "option %d selected twice", id)
		}
		seen[id] = struct{}{}
	}
	switch q.Type {
	case domain.QuestionSingleChoice, domain.QuestionRating:
		if len(s.OptionIDs) != 1 {
			return fault.Clientf(CodeSingleSelection, "question %d takes exactly one option, got %d", q.ID, len(s.OptionIDs))
		}
	case domain.QuestionMultipleChoice:
		if len(s.OptionIDs) == 0 {
			return fault.Clientf(CodeSelectionRequired, "question %d needs at least one option", q.ID)
		}
	}
	if maxLen > 0 && utf8.RuneCountInString(s.Value) > maxLen {
		return fault.Clientf(CodeAnswerTooLong, "answer exceeds %d characters", maxLen)
	}
	if strings.TrimSpace(q.Constraint) == "" {
		return nil
	}
	ok, err := Evaluate(q.Constraint, s)
	if err != nil {
		if fault.IsClientError(err) {
			return err
		}
		return fault.NewClientError(CodeConstraintFailed, fmt.Sprintf("constraint of question %d could not be evaluated", q.ID), err)
	}
	if !ok {
		return fault.Clientf(CodeConstraintFailed, "answer rejected by constraint %q", q.Constraint)
	}
	return nil
}
