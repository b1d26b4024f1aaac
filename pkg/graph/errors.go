package graph

import (
	"errors"
	"fmt"

	"github.com/dailos/tramite/pkg/models"
)

var (
	// ErrGraphMalformed indicates a definition that violates the
	// structural invariants. Rejected before a run starts.
	ErrGraphMalformed = errors.New("graph malformed")

	// ErrGraphEdit indicates a structural edit that cannot be applied.
	ErrGraphEdit = errors.New("graph edit rejected")
)

// MalformedError carries the failing node and reason for a structural
// violation.
type MalformedError struct {
	NodeID string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("graph malformed: %s", e.Reason)
	}

	return fmt.Sprintf("graph malformed at node %s: %s", e.NodeID, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrGraphMalformed
}

// GraphEditError carries the rejected operation and reason for a structural
// edit failure.
type GraphEditError struct {
	Op     string
	NodeID string
	Reason string
}

func (e *GraphEditError) Error() string {
	return fmt.Sprintf("%s rejected for node %s: %s", e.Op, e.NodeID, e.Reason)
}

func (e *GraphEditError) Is(target error) bool {
	return target == ErrGraphEdit
}

// IsMalformed checks if an error indicates a malformed graph. A stored
// definition whose node config no longer decodes counts as malformed too.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrGraphMalformed) || errors.Is(err, models.ErrInvalidNodeConfig)
}

// IsEditRejected checks if an error indicates a rejected structural edit.
func IsEditRejected(err error) bool {
	return errors.Is(err, ErrGraphEdit)
}
