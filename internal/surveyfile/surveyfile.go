// Package surveyfile reads and writes the YAML survey definition format.
// Questions are addressed by a local key; `next` is either a key or "end".
package surveyfile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"surveyflow/internal/domain"
)

// End is the next value that ends the survey.
const End = "end"

type File struct {
	Title     string     `yaml:"title"`
	Questions []Question `yaml:"questions"`
}

type Question struct {
	Key        string   `yaml:"key"`
	Type       string   `yaml:"type"`
	Text       string   `yaml:"text"`
	Constraint string   `yaml:"constraint,omitempty"`
	Next       string   `yaml:"next,omitempty"`
	Options    []Option `yaml:"options,omitempty"`
}

type Option struct {
	Text string `yaml:"text"`
	Next string `yaml:"next,omitempty"`
}

// Parse decodes and validates a survey file. Unknown fields are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("invalid survey yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks keys, types and references. Flow soundness is left to the
// flow validator once the survey is stored.
func (f File) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return errors.New("title is required")
	}
	if len(f.Questions) == 0 {
		return errors.New("at least one question is required")
	}
	keys := make(map[string]struct{}, len(f.Questions))
	for i, q := range f.Questions {
		if strings.TrimSpace(q.Key) == "" {
			return fmt.Errorf("questions[%d].key is required", i)
		}
		if q.Key == End {
			return fmt.Errorf("questions[%d].key %q is reserved", i, End)
		}
		if _, dup := keys[q.Key]; dup {
			return fmt.Errorf("duplicate question key %q", q.Key)
		}
		keys[q.Key] = struct{}{}
	}
	for _, q := range f.Questions {
		typ, err := domain.ParseQuestionType(q.Type)
		if err != nil {
			return fmt.Errorf("question %s: %w", q.Key, err)
		}
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("question %s: text is required", q.Key)
		}
		if err := checkNext(keys, q.Key, q.Next); err != nil {
			return err
		}
		if !typ.HasOptions() && len(q.Options) > 0 {
			return fmt.Errorf("question %s: %s questions take no options", q.Key, typ)
		}
		for j, o := range q.Options {
			if strings.TrimSpace(o.Text) == "" {
				return fmt.Errorf("question %s: options[%d].text is required", q.Key, j)
			}
			if o.Next != "" && !typ.Branches() {
				return fmt.Errorf("question %s: options of %s questions cannot branch", q.Key, typ)
			}
			if err := checkNext(keys, q.Key, o.Next); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkNext(keys map[string]struct{}, owner, next string) error {
	if next == "" || next == End {
		return nil
	}
	if next == owner {
		return fmt.Errorf("question %s continues to itself", owner)
	}
	if _, ok := keys[next]; !ok {
		return fmt.Errorf("question %s: next %q is not a question key", owner, next)
	}
	return nil
}

// Determinant resolves a next value to a determinant. ids maps question keys
// to stored ids. An empty next yields nil.
func Determinant(next string, ids map[string]int64) (*domain.Determinant, error) {
	switch next {
	case "":
		return nil, nil
	case End:
		d := domain.EndSurvey()
		return &d, nil
	}
	id, ok := ids[next]
	if !ok {
		return nil, fmt.Errorf("unknown question key %q", next)
	}
	d, err := domain.GoToQuestion(id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FromSurvey renders a stored survey in file form. Keys are q1, q2, ... in
// order index.
func FromSurvey(s domain.Survey) (File, error) {
	ordered := s.Ordered()
	keys := make(map[int64]string, len(ordered))
	for i, q := range ordered {
		keys[q.ID] = fmt.Sprintf("q%d", i+1)
	}
	next := func(d *domain.Determinant) (string, error) {
		if d == nil {
			return "", nil
		}
		if d.IsEnd() {
			return End, nil
		}
		id, ok := d.Target()
		if !ok {
			return "", domain.ErrInvalidDeterminant
		}
		key, found := keys[id]
		if !found {
			return "", fmt.Errorf("question %d is not part of survey %d", id, s.ID)
		}
		return key, nil
	}
	f := File{Title: s.Title, Questions: make([]Question, 0, len(ordered))}
	for _, q := range ordered {
		n, err := next(q.Next)
		if err != nil {
			return File{}, err
		}
		fq := Question{Key: keys[q.ID], Type: string(q.Type), Text: q.Text, Constraint: q.Constraint, Next: n}
		opts := append([]domain.Option(nil), q.Options...)
		domain.SortOptions(opts)
		for _, o := range opts {
			on, err := next(o.Next)
			if err != nil {
				return File{}, err
			}
			fq.Options = append(fq.Options, Option{Text: o.Text, Next: on})
		}
		f.Questions = append(f.Questions, fq)
	}
	return f, nil
}

// Marshal encodes f as YAML.
func Marshal(f File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
