package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Connection is a directed edge. Branch disambiguates multiple outgoing edges of one node.
type Connection struct {
	ID     string `json:"id"               validate:"required"`
	Source string `json:"source"           validate:"required"`
	Target string `json:"target"           validate:"required"`
	Branch string `json:"branch,omitempty"`
}

// FlowDefinition is one published, immutable version of a flow.
type FlowDefinition struct {
	ID          string
	ProjectID   string
	Name        string
	Version     int
	Nodes       map[string]Node
	Connections []Connection
	EntryNodeID string
	PublishedAt time.Time

	// Defaults are the lowest-precedence template values of this version, e.g. {"bal": 0}.
	Defaults map[string]any
}

type flowJSON struct {
	ID          string         `json:"id"             validate:"required"`
	ProjectID   string         `json:"project_id"     validate:"required"`
	Name        string         `json:"name,omitempty"`
	Version     int            `json:"version"`
	Nodes       []NodeRecord   `json:"nodes"          validate:"dive"`
	Connections []Connection   `json:"connections"    validate:"dive"`
	EntryNodeID string         `json:"entry_node_id,omitempty"`
	PublishedAt time.Time      `json:"published_at,omitzero"`
	Defaults    map[string]any `json:"defaults,omitempty"`
}

func (f FlowDefinition) MarshalJSON() ([]byte, error) {
	records := make([]NodeRecord, 0, len(f.Nodes))

	for _, node := range SerializeNodes(f.Nodes) {
		record, err := EncodeNode(node)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	connections := f.Connections
	if connections == nil {
		connections = []Connection{}
	}

	return json.Marshal(flowJSON{
		ID:          f.ID,
		ProjectID:   f.ProjectID,
		Name:        f.Name,
		Version:     f.Version,
		Nodes:       records,
		Connections: connections,
		EntryNodeID: f.EntryNodeID,
		PublishedAt: f.PublishedAt,
		Defaults:    f.Defaults,
	})
}

func (f *FlowDefinition) UnmarshalJSON(data []byte) error {
	var raw flowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	list := make([]Node, 0, len(raw.Nodes))

	for _, record := range raw.Nodes {
		node, err := DecodeNode(record)
		if err != nil {
			return err
		}

		list = append(list, node)
	}

	nodes, err := NormalizeNodes(list)
	if err != nil {
		return fmt.Errorf("invalid flow %s: %w", raw.ID, err)
	}

	*f = FlowDefinition{
		ID:          raw.ID,
		ProjectID:   raw.ProjectID,
		Name:        raw.Name,
		Version:     raw.Version,
		Nodes:       nodes,
		Connections: raw.Connections,
		EntryNodeID: raw.EntryNodeID,
		PublishedAt: raw.PublishedAt,
		Defaults:    raw.Defaults,
	}

	return nil
}

// Node looks a node up by id.
func (f *FlowDefinition) Node(id string) (Node, bool) {
	node, ok := f.Nodes[id]

	return node, ok
}

// Outgoing returns the connections leaving nodeID in authored order.
func (f *FlowDefinition) Outgoing(nodeID string) []Connection {
	var out []Connection

	for _, c := range f.Connections {
		if c.Source == nodeID {
			out = append(out, c)
		}
	}

	return out
}

// HasIncoming reports whether any connection targets nodeID.
func (f *FlowDefinition) HasIncoming(nodeID string) bool {
	for _, c := range f.Connections {
		if c.Target == nodeID {
			return true
		}
	}

	return false
}

// Triggers returns every trigger node sorted by id.
func (f *FlowDefinition) Triggers() []*TriggerNode {
	var triggers []*TriggerNode

	for _, node := range SerializeNodes(f.Nodes) {
		if t, ok := node.(*TriggerNode); ok {
			triggers = append(triggers, t)
		}
	}

	return triggers
}
