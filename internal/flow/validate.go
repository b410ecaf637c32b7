package flow

import (
	"fmt"

	"surveyflow/internal/domain"
)

// WarningCode names a non-blocking finding in a validation report.
type WarningCode string

const (
	// WarnAllOptionsEnd: every option of a branching question ends the survey.
	// Valid, but usually an authoring mistake.
	WarnAllOptionsEnd WarningCode = "all_options_end"
	// WarnSequentialLoop: a loop that only closes through sequential fallback.
	WarnSequentialLoop WarningCode = "sequential_loop"
	// WarnUnreachableQuestion: no answer path from the first question reaches it.
	WarnUnreachableQuestion WarningCode = "unreachable_question"
)

type Warning struct {
	Code       WarningCode `json:"code"`
	QuestionID int64       `json:"question_id,omitempty"`
	Path       []int64     `json:"path,omitempty"`
	Message    string      `json:"message"`
}

// Result is the outcome of validating one graph snapshot: Valid, or Invalid
// with a reason code and, for loops, the cycle path.
type Result struct {
	Valid     bool      `json:"valid"`
	Reason    Code      `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	CyclePath []int64   `json:"cycle_path,omitempty"`
	Endpoints []int64   `json:"endpoints,omitempty"`
	Warnings  []Warning `json:"warnings,omitempty"`
}

// Err converts an invalid result into the matching *Error; nil when valid.
func (r Result) Err(surveyID int64) error {
	if r.Valid {
		return nil
	}
	kind := KindCycle
	switch r.Reason {
	case CodeSelfReference:
		kind = KindConfiguration
	case CodeNoCompletionPath:
		kind = KindUnreachableCompletion
	}
	err := newError(kind, r.Reason, "%s", r.Message)
	err.SurveyID = surveyID
	err.CyclePath = append([]int64(nil), r.CyclePath...)
	if r.Reason == CodeSelfReference && len(r.CyclePath) > 0 {
		err.QuestionID = r.CyclePath[0]
	}
	return err
}

// ValidateSurvey builds the graph of s and validates it.
func ValidateSurvey(s domain.Survey) (Result, error) {
	g, err := Build(s)
	if err != nil {
		return Result{}, err
	}
	return Validate(g), nil
}

// Validate decides whether g may be activated. Self references are rejected
// first, then general cycles, then the survey must have at least one endpoint.
func Validate(g *Graph) Result {
	if q, ok := findSelfLoop(g); ok {
		return Result{
			Reason:    CodeSelfReference,
			Message:   fmt.Sprintf("question %d continues to itself", q),
			CyclePath: []int64{q, q},
		}
	}
	if cycle := findCycle(g.Len(), configuredAdjacency(g)); cycle != nil {
		path := g.questionPath(cycle)
		return Result{
			Reason:    CodeCycleDetected,
			Message:   "survey flow contains a cycle: " + FormatPath(path),
			CyclePath: path,
		}
	}
	endpoints := Endpoints(g)
	if len(endpoints) == 0 {
		return Result{
			Reason:  CodeNoCompletionPath,
			Message: "no question leads to completion",
		}
	}
	return Result{Valid: true, Endpoints: endpoints, Warnings: warnings(g)}
}

// Endpoints lists the questions with a direct path to END: any edge targeting
// END, or the last question when some answer path is left to sequential fallback.
func Endpoints(g *Graph) []int64 {
	var out []int64
	for _, n := range g.nodes {
		if n.Last && n.Fallbacks > 0 {
			out = append(out, n.QuestionID)
			continue
		}
		for _, e := range n.Edges {
			if e.To == g.End() {
				out = append(out, n.QuestionID)
				break
			}
		}
	}
	return out
}

func findSelfLoop(g *Graph) (int64, bool) {
	for i, n := range g.nodes {
		for _, e := range n.Edges {
			if e.To == NodeIndex(i) {
				return n.QuestionID, true
			}
		}
	}
	return 0, false
}

func configuredAdjacency(g *Graph) [][]NodeIndex {
	adj := make([][]NodeIndex, g.Len())
	for i := range g.nodes {
		adj[i] = g.Successors(NodeIndex(i))
	}
	return adj
}

// answerAdjacency adds the sequential fallback edges to the configured ones, so
// it mirrors every move the resolver can make.
func answerAdjacency(g *Graph) [][]NodeIndex {
	adj := configuredAdjacency(g)
	for i, n := range g.nodes {
		if n.Fallbacks == 0 {
			continue
		}
		next := NodeIndex(i + 1)
		if n.Last {
			next = g.End()
		}
		adj[i] = appendUnique(adj[i], next)
	}
	return adj
}

func appendUnique(in []NodeIndex, v NodeIndex) []NodeIndex {
	for _, x := range in {
		if x == v {
			return in
		}
	}
	return append(in, v)
}

const (
	unvisited uint8 = iota
	onStack
	finished
)

// findCycle runs a depth-first search from every unvisited node in index order.
// An edge into a node still on the recursion stack closes a cycle; the returned
// path starts and ends at that node. Indices >= n (the sink) are ignored.
func findCycle(n int, adj [][]NodeIndex) []NodeIndex {
	state := make([]uint8, n)
	stack := make([]NodeIndex, 0, n)
	var cycle []NodeIndex

	var visit func(u NodeIndex) bool
	visit = func(u NodeIndex) bool {
		state[u] = onStack
		stack = append(stack, u)
		for _, v := range adj[u] {
			if int(v) >= n {
				continue
			}
			switch state[v] {
			case onStack:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == v {
						cycle = append(append([]NodeIndex(nil), stack[i:]...), v)
						return true
					}
				}
			case unvisited:
				if visit(v) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[u] = finished
		return false
	}

	for u := 0; u < n; u++ {
		if state[u] == unvisited && visit(NodeIndex(u)) {
			return cycle
		}
	}
	return nil
}

func (g *Graph) questionPath(idx []NodeIndex) []int64 {
	path := make([]int64, 0, len(idx))
	for _, i := range idx {
		if id, ok := g.QuestionID(i); ok {
			path = append(path, id)
		}
	}
	return path
}

func warnings(g *Graph) []Warning {
	var out []Warning
	for _, n := range g.nodes {
		if !n.Branches || n.Fallbacks > 0 || len(n.Edges) == 0 || n.Edges[0].OptionID == 0 {
			continue
		}
		allEnd := true
		for _, e := range n.Edges {
			if e.To != g.End() {
				allEnd = false
				break
			}
		}
		if allEnd {
			out = append(out, Warning{
				Code:       WarnAllOptionsEnd,
				QuestionID: n.QuestionID,
				Message:    fmt.Sprintf("every option of question %d ends the survey", n.QuestionID),
			})
		}
	}

	adj := answerAdjacency(g)
	if cycle := findCycle(g.Len(), adj); cycle != nil {
		path := g.questionPath(cycle)
		out = append(out, Warning{
			Code:    WarnSequentialLoop,
			Path:    path,
			Message: "sequential fallback closes a loop: " + FormatPath(path),
		})
	}

	if g.Len() == 0 {
		return out
	}
	reached := make([]bool, g.Len())
	queue := []NodeIndex{0}
	reached[0] = true
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range adj[u] {
			if int(v) >= g.Len() || reached[v] {
				continue
			}
			reached[v] = true
			queue = append(queue, v)
		}
	}
	for i, ok := range reached {
		if !ok {
			id := g.nodes[i].QuestionID
			out = append(out, Warning{
				Code:       WarnUnreachableQuestion,
				QuestionID: id,
				Message:    fmt.Sprintf("question %d cannot be reached from the first question", id),
			})
		}
	}
	return out
}
