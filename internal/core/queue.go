package core

import (
	"sort"

	"github.com/luminodash/collab/internal/domain"
)

// ResolveBatch turns one batch of concurrently-submitted operations
// into the ordered sequence of effective outcomes. The batch is sorted
// by server timestamp ascending with arrival order breaking ties, then
// each operation is resolved against the already-accepted ones:
//
//   - move/resize: only the latest operation per component survives;
//     earlier conflicting ones are dropped and never broadcast.
//   - update: property maps merge field by field, the later timestamp
//     winning any contested field; the merged result keeps the latest
//     contributing operation's timestamp.
//   - anything else passes through unresolved.
func ResolveBatch(batch []domain.Operation) []domain.Operation {
	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].Timestamp.Equal(batch[j].Timestamp) {
			return batch[i].Timestamp.Before(batch[j].Timestamp)
		}
		return batch[i].Seq < batch[j].Seq
	})

	// For move/resize the winner per (kind, component) is simply the
	// last occurrence in sorted order.
	type key struct {
		kind      domain.OperationKind
		component string
	}
	winners := make(map[key]int)
	for i, op := range batch {
		if op.Kind == domain.OpMove || op.Kind == domain.OpResize {
			winners[key{op.Kind, op.ComponentID}] = i
		}
	}

	accepted := make([]domain.Operation, 0, len(batch))
	for i, op := range batch {
		switch op.Kind {
		case domain.OpMove, domain.OpResize:
			if winners[key{op.Kind, op.ComponentID}] != i {
				continue
			}
			accepted = append(accepted, op)
		case domain.OpUpdate:
			accepted = append(accepted, mergeUpdate(op, accepted))
		default:
			accepted = append(accepted, op)
		}
	}
	return accepted
}

// mergeUpdate folds previously accepted updates on the same component
// into op's property map. accepted is in ascending timestamp order, so
// each later prior overwrites earlier priors' fields, and op itself is
// the latest contributor: its own fields win outright and its
// timestamp stands.
func mergeUpdate(op domain.Operation, accepted []domain.Operation) domain.Operation {
	merged := make(map[string]any, len(op.Properties))
	for _, prior := range accepted {
		if prior.Kind != domain.OpUpdate || prior.ComponentID != op.ComponentID {
			continue
		}
		for k, v := range prior.Properties {
			merged[k] = v
		}
	}
	for k, v := range op.Properties {
		merged[k] = v
	}
	op.Properties = merged
	return op
}
