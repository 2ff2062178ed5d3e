// Package validation checks a flow graph before it may be published.
package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

const (
	MessageEmpty     = "flow is empty"
	MessageNoTrigger = "flow has no trigger node"
	MessageIsolated  = "node is isolated"
)

type Diagnostic struct {
	Severity Severity `json:"severity"`
	NodeID   string   `json:"node_id,omitempty"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	if d.NodeID != "" {
		return fmt.Sprintf("%s: %s (node %s)", d.Severity, d.Message, d.NodeID)
	}

	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// Result is the outcome of a validation. IsValid is false iff any diagnostic is an error.
type Result struct {
	IsValid     bool         `json:"is_valid"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

func Valid() Result {
	return Result{IsValid: true, Diagnostics: []Diagnostic{}}
}

// Errorf returns an invalid result with one error diagnostic.
func Errorf(nodeID, format string, args ...any) Result {
	r := Valid()
	r.AddError(nodeID, fmt.Sprintf(format, args...))

	return r
}

func (r *Result) AddError(nodeID, message string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Severity: SeverityError, NodeID: nodeID, Message: message})
	r.IsValid = false
}

func (r *Result) AddWarning(nodeID, message string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Severity: SeverityWarning, NodeID: nodeID, Message: message})
}

// Merge appends other's diagnostics.
func (r *Result) Merge(other Result) {
	for _, d := range other.Diagnostics {
		if d.Severity == SeverityError {
			r.AddError(d.NodeID, d.Message)
		} else {
			r.AddWarning(d.NodeID, d.Message)
		}
	}
}

func (r Result) Errors() []Diagnostic {
	return r.filter(SeverityError)
}

func (r Result) Warnings() []Diagnostic {
	return r.filter(SeverityWarning)
}

func (r Result) filter(severity Severity) []Diagnostic {
	var out []Diagnostic

	for _, d := range r.Diagnostics {
		if d.Severity == severity {
			out = append(out, d)
		}
	}

	return out
}

func (r Result) Error() string {
	parts := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Errors() {
		parts = append(parts, d.String())
	}

	return strings.Join(parts, "; ")
}

// ValidateFlow runs the graph rules in order and collects every diagnostic.
// It performs no I/O and never panics on malformed input.
func ValidateFlow(nodes map[string]models.Node, connections []models.Connection) Result {
	result := Valid()

	if len(nodes) == 0 {
		result.AddError("", MessageEmpty)

		return result
	}

	triggers := triggerIDs(nodes)
	if len(triggers) == 0 {
		result.AddError("", MessageNoTrigger)
	}

	edges := checkReferences(nodes, connections, &result)

	checkReachability(nodes, triggers, edges, &result)
	checkCycles(triggers, edges, &result)

	return result
}

// ValidateDefinition adds the definition-level invariants to ValidateFlow.
func ValidateDefinition(flow *models.FlowDefinition) Result {
	result := ValidateFlow(flow.Nodes, flow.Connections)

	if flow.EntryNodeID != "" {
		entry, ok := flow.Nodes[flow.EntryNodeID]

		switch {
		case !ok:
			result.AddError(flow.EntryNodeID, "entry node does not exist")
		case entry.Kind() != models.KindTrigger:
			result.AddError(flow.EntryNodeID, "entry node must be a trigger")
		}
	}

	seen := make(map[string]bool, len(flow.Connections))
	for _, c := range flow.Connections {
		if c.ID == "" {
			continue
		}

		if seen[c.ID] {
			result.AddError("", fmt.Sprintf("duplicate connection id %q", c.ID))
		}

		seen[c.ID] = true
	}

	return result
}

func triggerIDs(nodes map[string]models.Node) []string {
	var ids []string

	for id, node := range nodes {
		if node.Kind() == models.KindTrigger {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)

	return ids
}

// checkReferences reports one error per dangling endpoint and returns the
// adjacency of the connections whose both ends exist.
func checkReferences(nodes map[string]models.Node, connections []models.Connection, result *Result) map[string][]string {
	edges := make(map[string][]string)

	for _, c := range connections {
		valid := true

		if _, ok := nodes[c.Source]; !ok {
			result.AddError(c.Source, fmt.Sprintf("connection %s references missing source node %q", c.ID, c.Source))

			valid = false
		}

		if _, ok := nodes[c.Target]; !ok {
			result.AddError(c.Target, fmt.Sprintf("connection %s references missing target node %q", c.ID, c.Target))

			valid = false
		}

		if valid {
			edges[c.Source] = append(edges[c.Source], c.Target)
		}
	}

	return edges
}

func checkReachability(nodes map[string]models.Node, triggers []string, edges map[string][]string, result *Result) {
	undirected := make(map[string][]string, len(edges))

	for source, targets := range edges {
		for _, target := range targets {
			undirected[source] = append(undirected[source], target)
			undirected[target] = append(undirected[target], source)
		}
	}

	reached := make(map[string]bool, len(nodes))
	queue := slices.Clone(triggers)

	for _, id := range triggers {
		reached[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, next := range undirected[id] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		if nodes[id].Kind() != models.KindTrigger && !reached[id] {
			result.AddWarning(id, MessageIsolated)
		}
	}
}

// checkCycles walks the directed graph from every trigger and reports the first cycle found, once.
func checkCycles(triggers []string, edges map[string][]string, result *Result) {
	done := make(map[string]bool)
	onStack := make(map[string]bool)

	var (
		stack []string
		cycle []string
	)

	var visit func(id string) bool
	visit = func(id string) bool {
		if done[id] {
			return false
		}

		if onStack[id] {
			start := slices.Index(stack, id)
			cycle = append(slices.Clone(stack[start:]), id)

			return true
		}

		onStack[id] = true
		stack = append(stack, id)

		for _, next := range edges[id] {
			if visit(next) {
				return true
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
		done[id] = true

		return false
	}

	for _, id := range triggers {
		if visit(id) {
			result.AddError(cycle[0], "cycle detected: "+strings.Join(cycle, " -> "))

			return
		}
	}
}
