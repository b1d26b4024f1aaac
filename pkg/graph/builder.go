// Package graph builds, edits and validates process graph definitions.
package graph

import (
	"fmt"
	"time"

	"github.com/dailos/tramite/pkg/models"
	"github.com/google/uuid"
)

// TaskSpec describes one sequential task step for BuildLinear.
type TaskSpec struct {
	Name           string `json:"name"`
	TaskTemplateID string `json:"task_template_id" validate:"required"`
	DurationDays   int    `json:"duration_days"    validate:"min=0"`
}

// BranchSpec describes one parallel branch for BuildForkJoin.
type BranchSpec struct {
	Name    string `json:"name"`
	GroupID string `json:"group_id"`
}

const placeholderTemplateID = "placeholder"

// BuildLinear produces start → task* → validation → notification → end.
// An empty steps slice gets one placeholder task node so the pipeline is
// never empty between start and validation.
func BuildLinear(name string, steps []TaskSpec, approver models.ValidationConfig) (*models.Graph, error) {
	if len(steps) == 0 {
		steps = []TaskSpec{{Name: "Placeholder task", TaskTemplateID: placeholderTemplateID}}
	}

	g := newGraph(name)

	start := addNode(g, models.NodeTypeStart, "Start", nil)
	previous := start

	for i, step := range steps {
		task := addNode(g, models.NodeTypeTask, step.Name, &models.TaskConfig{
			TaskTemplateID: step.TaskTemplateID,
			DurationDays:   step.DurationDays,
		})
		task.ID = fmt.Sprintf("task-%d", i+1)

		addEdge(g, previous, task, "", "")

		previous = task
	}

	validation := addNode(g, models.NodeTypeValidation, "Approval", &approver)
	addEdge(g, previous, validation, "", "")

	notification := addNode(g, models.NodeTypeNotification, "Outcome notification", &models.NotificationConfig{
		Channels:        []models.Channel{models.ChannelInApp},
		RecipientType:   "requester",
		SubjectTemplate: "Process step finished",
		BodyTemplate:    "Your request moved forward.",
	})
	addEdge(g, validation, notification, "", "")

	end := addNode(g, models.NodeTypeEnd, "End", nil)
	addEdge(g, notification, end, "", "")

	return g, Validate(g)
}

// BuildForkJoin produces start → fork → n branches → join → end when more
// than one branch is given. With zero or one branch it degrades to a linear
// chain of sub_process nodes: the branching pattern is only introduced when
// genuinely needed.
func BuildForkJoin(name string, branches []BranchSpec) (*models.Graph, error) {
	g := newGraph(name)
	start := addNode(g, models.NodeTypeStart, "Start", nil)
	end := addNode(g, models.NodeTypeEnd, "End", nil)

	if len(branches) <= 1 {
		previous := start

		for _, branch := range branches {
			sub := addNode(g, models.NodeTypeSubProcess, branch.Name, &models.SubProcessConfig{GroupID: branch.GroupID})
			addEdge(g, previous, sub, "", "")
			previous = sub
		}

		addEdge(g, previous, end, "", "")

		return g, Validate(g)
	}

	fork := addNode(g, models.NodeTypeFork, "Fork", &models.ForkConfig{BranchCount: len(branches)})
	join := addNode(g, models.NodeTypeJoin, "Join", &models.JoinConfig{RequiredCount: len(branches)})

	addEdge(g, start, fork, "", "")

	for i, branch := range branches {
		sub := addNode(g, models.NodeTypeSubProcess, branch.Name, &models.SubProcessConfig{GroupID: branch.GroupID})
		sub.ID = fmt.Sprintf("branch-%d", i+1)

		addEdge(g, fork, sub, fmt.Sprintf("fork-out-%d", i+1), "")
		addEdge(g, sub, join, "", fmt.Sprintf("join-in-%d", i+1))
	}

	addEdge(g, join, end, "", "")

	return g, Validate(g)
}

// InsertTaskBefore splices a new task node immediately before the anchor by
// redirecting the anchor's single incoming edge. An anchor with more than
// one incoming edge is an ambiguous insertion point and is rejected; the
// caller must restructure via handles instead.
func InsertTaskBefore(g *models.Graph, anchorNodeID string, spec TaskSpec) (*models.Graph, error) {
	clone := cloneGraph(g)

	anchor := clone.NodeByID(anchorNodeID)
	if anchor == nil {
		return nil, &GraphEditError{Op: "InsertTaskBefore", NodeID: anchorNodeID, Reason: "anchor not found"}
	}

	incoming := clone.IncomingEdges(anchorNodeID)

	switch {
	case len(incoming) == 0:
		return nil, &GraphEditError{Op: "InsertTaskBefore", NodeID: anchorNodeID, Reason: "anchor has no incoming edge"}
	case len(incoming) > 1:
		return nil, &GraphEditError{Op: "InsertTaskBefore", NodeID: anchorNodeID, Reason: "ambiguous insertion point: anchor has multiple incoming edges"}
	}

	task := addNode(clone, models.NodeTypeTask, spec.Name, &models.TaskConfig{
		TaskTemplateID: spec.TaskTemplateID,
		DurationDays:   spec.DurationDays,
	})

	incoming[0].TargetNodeID = task.ID
	incoming[0].TargetHandle = ""
	addEdge(clone, task, anchor, "", "")

	return clone, Validate(clone)
}

// RemoveNode deletes a node and reconnects every incoming edge source to
// every outgoing edge target (cross-product), preserving reachability of all
// downstream nodes. Start and end nodes cannot be removed.
func RemoveNode(g *models.Graph, nodeID string) (*models.Graph, error) {
	clone := cloneGraph(g)

	node := clone.NodeByID(nodeID)
	if node == nil {
		return nil, &GraphEditError{Op: "RemoveNode", NodeID: nodeID, Reason: "node not found"}
	}

	if node.Type == models.NodeTypeStart || node.Type == models.NodeTypeEnd {
		return nil, &GraphEditError{Op: "RemoveNode", NodeID: nodeID, Reason: fmt.Sprintf("cannot remove %s node", node.Type)}
	}

	incoming := clone.IncomingEdges(nodeID)
	outgoing := clone.OutgoingEdges(nodeID)

	for _, in := range incoming {
		for _, out := range outgoing {
			clone.Edges = append(clone.Edges, &models.Edge{
				ID:           uuid.New().String(),
				SourceNodeID: in.SourceNodeID,
				TargetNodeID: out.TargetNodeID,
				SourceHandle: in.SourceHandle,
				TargetHandle: out.TargetHandle,
			})
		}
	}

	filteredNodes := make([]*models.Node, 0, len(clone.Nodes)-1)

	for _, n := range clone.Nodes {
		if n.ID != nodeID {
			filteredNodes = append(filteredNodes, n)
		}
	}

	filteredEdges := make([]*models.Edge, 0, len(clone.Edges))

	for _, e := range clone.Edges {
		if e.SourceNodeID != nodeID && e.TargetNodeID != nodeID {
			filteredEdges = append(filteredEdges, e)
		}
	}

	clone.Nodes = filteredNodes
	clone.Edges = filteredEdges

	return clone, Validate(clone)
}

func newGraph(name string) *models.Graph {
	return &models.Graph{
		ID:        uuid.New().String(),
		Version:   1,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

func addNode(g *models.Graph, nodeType models.NodeType, name string, config models.NodeConfig) *models.Node {
	node := &models.Node{
		ID:     string(nodeType),
		Type:   nodeType,
		Name:   name,
		Config: config,
	}

	// Types that may occur more than once get unique ids.
	if g.NodeByID(node.ID) != nil || nodeType == models.NodeTypeTask || nodeType == models.NodeTypeSubProcess {
		node.ID = fmt.Sprintf("%s-%s", nodeType, uuid.New().String()[:8])
	}

	g.Nodes = append(g.Nodes, node)

	return node
}

func addEdge(g *models.Graph, source, target *models.Node, sourceHandle, targetHandle string) *models.Edge {
	edge := &models.Edge{
		ID:           uuid.New().String(),
		SourceNodeID: source.ID,
		TargetNodeID: target.ID,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
	}

	g.Edges = append(g.Edges, edge)

	return edge
}

// cloneGraph deep-copies nodes and edges so edits never mutate the stored
// definition.
func cloneGraph(g *models.Graph) *models.Graph {
	clone := &models.Graph{
		ID:         g.ID,
		TemplateID: g.TemplateID,
		Version:    g.Version,
		Name:       g.Name,
		CreatedAt:  g.CreatedAt,
		Nodes:      make([]*models.Node, len(g.Nodes)),
		Edges:      make([]*models.Edge, len(g.Edges)),
	}

	for i, node := range g.Nodes {
		copied := *node
		clone.Nodes[i] = &copied
	}

	for i, edge := range g.Edges {
		copied := *edge
		clone.Edges[i] = &copied
	}

	return clone
}
