package flow

import (
	"context"
	"errors"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
)

// CompatibleContext reports whether agentID is contextID or is nested, at any
// depth, under contextID. Events recorded in an incompatible context cannot be
// credited by that context's value equations.
//
// Missing ancestors end that branch of the walk rather than failing it.
func CompatibleContext(ctx context.Context, r Reader, agentID, contextID string) (bool, error) {
	if agentID == "" || contextID == "" {
		return false, nil
	}

	seen := map[string]bool{agentID: true}
	queue := []string{agentID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == contextID {
			return true, nil
		}

		agent, err := r.Agent(ctx, current)
		if err != nil {
			if errors.Is(err, vferrors.ErrNotFound) {
				continue
			}
			return false, err
		}
		for _, parent := range agent.ParentIDs {
			if !seen[parent] {
				seen[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return false, nil
}
