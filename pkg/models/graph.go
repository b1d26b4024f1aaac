// Package models defines the core domain models for graph-based process execution.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType enumerates the closed set of step kinds a process graph may contain.
type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeTask         NodeType = "task"
	NodeTypeValidation   NodeType = "validation"
	NodeTypeNotification NodeType = "notification"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeFork         NodeType = "fork"
	NodeTypeJoin         NodeType = "join"
	NodeTypeSubProcess   NodeType = "sub_process"
	NodeTypeEnd          NodeType = "end"
)

// Handles used on condition outgoing edges.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// Graph is an immutable process definition owned by a process template.
type Graph struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	Version    int       `json:"version"`
	Name       string    `json:"name"       validate:"required,min=3"`
	Nodes      []*Node   `json:"nodes"`
	Edges      []*Edge   `json:"edges"`
	CreatedAt  time.Time `json:"created_at"`
}

// Node is one typed step in a graph. Config holds the variant matching Type;
// start and end carry no config.
type Node struct {
	ID                   string     `json:"id"   validate:"required"`
	Type                 NodeType   `json:"type" validate:"required"`
	Name                 string     `json:"name"`
	Config               NodeConfig `json:"-"`
	LinkedTaskTemplateID *string    `json:"linked_task_template_id,omitempty"`
}

// Edge is a directed transition between two nodes. Handles disambiguate a
// fork's branches and a condition's true/false outputs.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"source_node_id" validate:"required"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

type nodeAlias struct {
	ID                   string          `json:"id"`
	Type                 NodeType        `json:"type"`
	Name                 string          `json:"name"`
	Config               json.RawMessage `json:"config,omitempty"`
	LinkedTaskTemplateID *string         `json:"linked_task_template_id,omitempty"`
}

// UnmarshalJSON decodes the config variant keyed by the node type, so a
// malformed config is rejected at graph-load time rather than mid-run.
func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeAlias

	err := json.Unmarshal(data, &alias)
	if err != nil {
		return err
	}

	n.ID = alias.ID
	n.Type = alias.Type
	n.Name = alias.Name
	n.LinkedTaskTemplateID = alias.LinkedTaskTemplateID

	config, err := DecodeNodeConfig(alias.Type, alias.Config)
	if err != nil {
		return fmt.Errorf("node %s: %w", alias.ID, err)
	}

	n.Config = config

	return nil
}

func (n *Node) MarshalJSON() ([]byte, error) {
	alias := nodeAlias{
		ID:                   n.ID,
		Type:                 n.Type,
		Name:                 n.Name,
		LinkedTaskTemplateID: n.LinkedTaskTemplateID,
	}

	if n.Config != nil {
		raw, err := json.Marshal(n.Config)
		if err != nil {
			return nil, err
		}

		alias.Config = raw
	}

	return json.Marshal(alias)
}

// StartNode returns the single start node, or nil when the graph has none.
func (g *Graph) StartNode() *Node {
	for _, node := range g.Nodes {
		if node.Type == NodeTypeStart {
			return node
		}
	}

	return nil
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the outgoing edges of a node in declaration order.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge

	for _, edge := range g.Edges {
		if edge.SourceNodeID == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

// IncomingEdges returns the incoming edges of a node in declaration order.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	var in []*Edge

	for _, edge := range g.Edges {
		if edge.TargetNodeID == nodeID {
			in = append(in, edge)
		}
	}

	return in
}
