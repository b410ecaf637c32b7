// Package flow holds the conditional survey flow engine: the graph model built
// from a survey snapshot, the validator that decides whether a survey may be
// activated, and the resolver that picks the next question for one answer.
//
// Everything here is pure. Callers hand in a survey snapshot and get values
// back; nothing is cached between calls.
package flow

import (
	"surveyflow/internal/domain"
)

// NodeIndex addresses a node in a Graph's arena. The END sink has index Graph.End().
type NodeIndex int

// Node is one question in the flow graph.
type Node struct {
	QuestionID int64
	Position   int
	Type       domain.QuestionType
	Branches   bool
	// Last is set on the final question by order index.
	Last  bool
	Edges []Edge
	// Fallbacks counts answer paths with no configured edge. Those take the
	// sequential fallback at answer time.
	Fallbacks int
}

// Edge is one configured outcome leaving a node.
type Edge struct {
	// OptionID is zero for the question-level edge of a non-branching question.
	OptionID int64
	// Inherited marks an option edge that uses the question's default determinant.
	Inherited   bool
	Determinant domain.Determinant
	To          NodeIndex
}

// Graph is the derived flow graph of one survey. Nodes live in an arena ordered
// by question position and are addressed by index.
type Graph struct {
	SurveyID int64
	nodes    []Node
	index    map[int64]NodeIndex
}

// End returns the index of the END sink.
func (g *Graph) End() NodeIndex { return NodeIndex(len(g.nodes)) }

// Len returns the number of question nodes, excluding the sink.
func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) Node(i NodeIndex) Node { return g.nodes[i] }

// Nodes returns the question nodes in order. The slice must not be modified.
func (g *Graph) Nodes() []Node { return g.nodes }

func (g *Graph) Index(questionID int64) (NodeIndex, bool) {
	i, ok := g.index[questionID]
	return i, ok
}

// QuestionID maps a node index back to its question; false for the sink.
func (g *Graph) QuestionID(i NodeIndex) (int64, bool) {
	if i < 0 || int(i) >= len(g.nodes) {
		return 0, false
	}
	return g.nodes[i].QuestionID, true
}

// Successors returns the distinct targets of i's edges in edge order.
func (g *Graph) Successors(i NodeIndex) []NodeIndex {
	seen := make(map[NodeIndex]struct{}, len(g.nodes[i].Edges))
	var out []NodeIndex
	for _, e := range g.nodes[i].Edges {
		if _, ok := seen[e.To]; ok {
			continue
		}
		seen[e.To] = struct{}{}
		out = append(out, e.To)
	}
	return out
}

// Build materializes the flow graph of s. It does not judge the graph; that is
// Validate's job. It fails only when an edge cannot be represented: a malformed
// determinant, a target outside the survey or a duplicated question.
func Build(s domain.Survey) (*Graph, error) {
	ordered := s.Ordered()
	g := &Graph{
		SurveyID: s.ID,
		nodes:    make([]Node, 0, len(ordered)),
		index:    make(map[int64]NodeIndex, len(ordered)),
	}
	for i, q := range ordered {
		if _, dup := g.index[q.ID]; dup {
			return nil, g.configError(CodeDuplicateQuestion, q.ID, 0, "question %d appears twice", q.ID)
		}
		if s.ID != 0 && q.SurveyID != 0 && q.SurveyID != s.ID {
			return nil, g.configError(CodeCrossSurveyReference, q.ID, 0, "question %d belongs to survey %d", q.ID, q.SurveyID)
		}
		g.index[q.ID] = NodeIndex(i)
		g.nodes = append(g.nodes, Node{
			QuestionID: q.ID,
			Position:   q.Position,
			Type:       q.Type,
			Branches:   q.Branches(),
			Last:       i == len(ordered)-1,
		})
	}
	for i, q := range ordered {
		if err := g.addEdges(&g.nodes[i], q); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) addEdges(n *Node, q domain.Question) error {
	if !q.Branches() || len(q.Options) == 0 {
		if q.Next == nil {
			n.Fallbacks++
			return nil
		}
		return g.appendEdge(n, 0, false, *q.Next)
	}
	opts := make([]domain.Option, len(q.Options))
	copy(opts, q.Options)
	domain.SortOptions(opts)
	for _, o := range opts {
		d, inherited, ok := optionDeterminant(q, o)
		if !ok {
			n.Fallbacks++
			continue
		}
		if err := g.appendEdge(n, o.ID, inherited, d); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) appendEdge(n *Node, optionID int64, inherited bool, d domain.Determinant) error {
	if !d.Valid() {
		return g.configError(CodeInvalidDeterminant, n.QuestionID, optionID, "question %d has a malformed determinant", n.QuestionID)
	}
	to := g.End()
	if target, ok := d.Target(); ok {
		idx, found := g.index[target]
		if !found {
			return g.configError(CodeCrossSurveyReference, n.QuestionID, optionID,
				"question %d continues to question %d which is not part of survey %d", n.QuestionID, target, g.SurveyID)
		}
		to = idx
	}
	n.Edges = append(n.Edges, Edge{OptionID: optionID, Inherited: inherited, Determinant: d, To: to})
	return nil
}

func (g *Graph) configError(code Code, questionID, optionID int64, format string, args ...any) *Error {
	err := newError(KindConfiguration, code, format, args...)
	err.SurveyID = g.SurveyID
	err.QuestionID = questionID
	err.OptionID = optionID
	return err
}

// optionDeterminant applies the edge rule to one option of a branching question:
// the option's own determinant, else the question default, else none.
func optionDeterminant(q domain.Question, o domain.Option) (d domain.Determinant, inherited bool, ok bool) {
	if o.Next != nil {
		return *o.Next, false, true
	}
	if q.Next != nil {
		return *q.Next, true, true
	}
	return domain.Determinant{}, false, false
}

// NodeView and EdgeView are the serializable shape of a graph.
type NodeView struct {
	QuestionID int64               `json:"question_id"`
	Position   int                 `json:"position"`
	Type       domain.QuestionType `json:"type"`
	Branches   bool                `json:"branches"`
	Last       bool                `json:"last"`
	Fallbacks  int                 `json:"fallbacks"`
	Edges      []EdgeView          `json:"edges"`
}

type EdgeView struct {
	OptionID  int64              `json:"option_id,omitempty"`
	Inherited bool               `json:"inherited,omitempty"`
	Next      domain.Determinant `json:"next"`
}

// View returns the nodes and edges of g in order.
func (g *Graph) View() []NodeView {
	out := make([]NodeView, 0, len(g.nodes))
	for _, n := range g.nodes {
		edges := make([]EdgeView, 0, len(n.Edges))
		for _, e := range n.Edges {
			edges = append(edges, EdgeView{OptionID: e.OptionID, Inherited: e.Inherited, Next: e.Determinant})
		}
		out = append(out, NodeView{
			QuestionID: n.QuestionID,
			Position:   n.Position,
			Type:       n.Type,
			Branches:   n.Branches,
			Last:       n.Last,
			Fallbacks:  n.Fallbacks,
			Edges:      edges,
		})
	}
	return out
}
