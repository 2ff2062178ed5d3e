// Package models defines the flow graph, execution state and log types shared by the engine.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

type NodeKind string

const (
	KindTrigger   NodeKind = "trigger"
	KindMessage   NodeKind = "message"
	KindAction    NodeKind = "action"
	KindCondition NodeKind = "condition"
	KindDelay     NodeKind = "delay"
	KindEnd       NodeKind = "end"
)

// Kinds lists every node kind known to the engine.
var Kinds = []NodeKind{KindTrigger, KindMessage, KindAction, KindCondition, KindDelay, KindEnd}

var (
	ErrUnknownNodeKind = errors.New("unknown node kind")
	ErrDuplicateNodeID = errors.New("duplicate node id")
	ErrEmptyNodeID     = errors.New("node id cannot be empty")
)

// Node is one typed step of a flow. The set of implementations is closed.
type Node interface {
	NodeID() string
	NodeName() string
	Kind() NodeKind
	sealed()
}

type NodeBase struct {
	ID   string `json:"id"             validate:"required"`
	Name string `json:"name,omitempty"`
}

func (b NodeBase) NodeID() string   { return b.ID }
func (b NodeBase) NodeName() string { return b.Name }
func (NodeBase) sealed()            {}

type TriggerSubtype string

const (
	TriggerCommand  TriggerSubtype = "command"
	TriggerMessage  TriggerSubtype = "message"
	TriggerCallback TriggerSubtype = "callback"
	TriggerSchedule TriggerSubtype = "schedule"
)

type TriggerConfig struct {
	Subtype TriggerSubtype `json:"subtype"           validate:"required,oneof=command message callback schedule"`
	Matcher string         `json:"matcher,omitempty"`
}

type TriggerNode struct {
	NodeBase
	TriggerConfig
}

func (TriggerNode) Kind() NodeKind { return KindTrigger }

type Button struct {
	Text string `json:"text"           validate:"required"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

type MessageConfig struct {
	Template string   `json:"template"`
	Buttons  []Button `json:"buttons,omitempty" validate:"dive"`
}

type MessageNode struct {
	NodeBase
	MessageConfig
}

func (MessageNode) Kind() NodeKind { return KindMessage }

type ActionConfig struct {
	Operation      string         `json:"operation"                 validate:"required"`
	Params         map[string]any `json:"params,omitempty"`
	ResultVariable string         `json:"result_variable,omitempty"`
}

type ActionNode struct {
	NodeBase
	ActionConfig
}

func (ActionNode) Kind() NodeKind { return KindAction }

type ConditionConfig struct {
	Left     string `json:"left"`
	Operator string `json:"operator" validate:"required"`
	Right    string `json:"right"`
}

type ConditionNode struct {
	NodeBase
	ConditionConfig
}

func (ConditionNode) Kind() NodeKind { return KindCondition }

type DelayConfig struct {
	// Duration is a Go duration string ("90s", "2h") or a bare number of seconds.
	Duration string `json:"duration" validate:"required"`
}

type DelayNode struct {
	NodeBase
	DelayConfig
}

func (DelayNode) Kind() NodeKind { return KindDelay }

type EndConfig struct {
	Success bool `json:"success"`
}

type EndNode struct {
	NodeBase
	EndConfig
}

func (EndNode) Kind() NodeKind { return KindEnd }

// NodeRecord is the storage and wire form of a node.
type NodeRecord struct {
	ID     string         `json:"id"               validate:"required"`
	Kind   NodeKind       `json:"kind"             validate:"required"`
	Name   string         `json:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// EncodeNode converts a typed node into its record form.
func EncodeNode(node Node) (NodeRecord, error) {
	var cfg any

	switch n := node.(type) {
	case *TriggerNode:
		cfg = n.TriggerConfig
	case *MessageNode:
		cfg = n.MessageConfig
	case *ActionNode:
		cfg = n.ActionConfig
	case *ConditionNode:
		cfg = n.ConditionConfig
	case *DelayNode:
		cfg = n.DelayConfig
	case *EndNode:
		cfg = n.EndConfig
	default:
		return NodeRecord{}, fmt.Errorf("%w: %T", ErrUnknownNodeKind, node)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return NodeRecord{}, fmt.Errorf("failed to marshal config of node %s: %w", node.NodeID(), err)
	}

	config := map[string]any{}
	if err := json.Unmarshal(raw, &config); err != nil {
		return NodeRecord{}, fmt.Errorf("failed to unmarshal config of node %s: %w", node.NodeID(), err)
	}

	return NodeRecord{
		ID:     node.NodeID(),
		Kind:   node.Kind(),
		Name:   node.NodeName(),
		Config: config,
	}, nil
}

// DecodeNode converts a record into the typed node for its kind.
func DecodeNode(record NodeRecord) (Node, error) {
	if record.ID == "" {
		return nil, ErrEmptyNodeID
	}

	raw, err := json.Marshal(record.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config of node %s: %w", record.ID, err)
	}

	base := NodeBase{ID: record.ID, Name: record.Name}

	var (
		node Node
		cfg  any
	)

	switch record.Kind {
	case KindTrigger:
		n := &TriggerNode{NodeBase: base}
		node, cfg = n, &n.TriggerConfig
	case KindMessage:
		n := &MessageNode{NodeBase: base}
		node, cfg = n, &n.MessageConfig
	case KindAction:
		n := &ActionNode{NodeBase: base}
		node, cfg = n, &n.ActionConfig
	case KindCondition:
		n := &ConditionNode{NodeBase: base}
		node, cfg = n, &n.ConditionConfig
	case KindDelay:
		n := &DelayNode{NodeBase: base}
		node, cfg = n, &n.DelayConfig
	case KindEnd:
		n := &EndNode{NodeBase: base}
		node, cfg = n, &n.EndConfig
	default:
		return nil, fmt.Errorf("%w: %q (node %s)", ErrUnknownNodeKind, record.Kind, record.ID)
	}

	if record.Config != nil {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid config for node %s: %w", record.ID, err)
		}
	}

	return node, nil
}

// SerializeNodes flattens a node map into a list ordered by node id.
func SerializeNodes(nodes map[string]Node) []Node {
	list := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		list = append(list, node)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].NodeID() < list[j].NodeID()
	})

	return list
}

// NormalizeNodes indexes a node list by id. Duplicate or empty ids are rejected.
func NormalizeNodes(list []Node) (map[string]Node, error) {
	nodes := make(map[string]Node, len(list))

	for _, node := range list {
		id := node.NodeID()
		if id == "" {
			return nil, ErrEmptyNodeID
		}

		if _, exists := nodes[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, id)
		}

		nodes[id] = node
	}

	return nodes, nil
}
