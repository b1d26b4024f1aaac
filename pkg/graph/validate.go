package graph

import (
	"fmt"

	"github.com/dailos/tramite/pkg/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural invariants of a graph definition:
// exactly one start node; every node except end has at least one outgoing
// edge; every non-start node has at least one incoming edge; edges reference
// existing nodes; a fork's outgoing edge count equals its branch count; a
// join's required count equals its incoming edge count. Node configs are
// checked against their variant's constraints.
func Validate(g *models.Graph) error {
	starts := 0

	for _, node := range g.Nodes {
		if node.Type == models.NodeTypeStart {
			starts++
		}
	}

	if starts != 1 {
		return &MalformedError{Reason: fmt.Sprintf("expected exactly one start node, found %d", starts)}
	}

	for _, edge := range g.Edges {
		if g.NodeByID(edge.SourceNodeID) == nil {
			return &MalformedError{NodeID: edge.SourceNodeID, Reason: "edge source does not exist"}
		}

		if g.NodeByID(edge.TargetNodeID) == nil {
			return &MalformedError{NodeID: edge.TargetNodeID, Reason: "edge target does not exist"}
		}
	}

	for _, node := range g.Nodes {
		outgoing := g.OutgoingEdges(node.ID)
		incoming := g.IncomingEdges(node.ID)

		if node.Type != models.NodeTypeEnd && len(outgoing) == 0 {
			return &MalformedError{NodeID: node.ID, Reason: "node has no outgoing edge"}
		}

		if node.Type != models.NodeTypeStart && len(incoming) == 0 {
			return &MalformedError{NodeID: node.ID, Reason: "node has no incoming edge"}
		}

		err := validateConfig(node, len(incoming), len(outgoing))
		if err != nil {
			return err
		}
	}

	return nil
}

func validateConfig(node *models.Node, incomingCount, outgoingCount int) error {
	needsConfig := node.Type != models.NodeTypeStart && node.Type != models.NodeTypeEnd

	if needsConfig && node.Config == nil {
		return &MalformedError{NodeID: node.ID, Reason: fmt.Sprintf("%s node requires config", node.Type)}
	}

	if node.Config != nil {
		err := validate.Struct(node.Config)
		if err != nil {
			return &MalformedError{NodeID: node.ID, Reason: fmt.Sprintf("invalid %s config: %v", node.Type, err)}
		}
	}

	switch config := node.Config.(type) {
	case *models.ForkConfig:
		if config.BranchCount != outgoingCount {
			return &MalformedError{
				NodeID: node.ID,
				Reason: fmt.Sprintf("fork declares %d branches but has %d outgoing edges", config.BranchCount, outgoingCount),
			}
		}
	case *models.JoinConfig:
		if config.RequiredCount != incomingCount {
			return &MalformedError{
				NodeID: node.ID,
				Reason: fmt.Sprintf("join requires %d arrivals but has %d incoming edges", config.RequiredCount, incomingCount),
			}
		}
	case *models.ConditionConfig:
		if config.Language != "expr" && config.Operator == "" {
			return &MalformedError{NodeID: node.ID, Reason: "condition requires an operator or an expr expression"}
		}
	}

	return nil
}
