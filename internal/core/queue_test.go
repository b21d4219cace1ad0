package core

import (
	"testing"
	"time"

	"github.com/luminodash/collab/internal/domain"
)

func op(kind domain.OperationKind, component string, ts int64, seq int, props map[string]any) domain.Operation {
	return domain.Operation{
		ID:          "op",
		Kind:        kind,
		ComponentID: component,
		Properties:  props,
		Timestamp:   time.Unix(0, ts),
		Seq:         seq,
	}
}

func TestResolveBatchMoveLaterWins(t *testing.T) {
	a := op(domain.OpMove, "x", 1, 0, map[string]any{"x": 1})
	b := op(domain.OpMove, "x", 2, 1, map[string]any{"x": 2})

	got := ResolveBatch([]domain.Operation{a, b})
	if len(got) != 1 {
		t.Fatalf("accepted = %d ops, want 1", len(got))
	}
	if !got[0].Timestamp.Equal(b.Timestamp) {
		t.Fatal("the later move must win; the earlier one is dropped")
	}
}

func TestResolveBatchMoveDifferentComponents(t *testing.T) {
	a := op(domain.OpMove, "x", 1, 0, nil)
	b := op(domain.OpMove, "y", 2, 1, nil)

	got := ResolveBatch([]domain.Operation{a, b})
	if len(got) != 2 {
		t.Fatalf("accepted = %d ops, want 2 (no conflict)", len(got))
	}
}

func TestResolveBatchMoveTieArrivalOrder(t *testing.T) {
	a := op(domain.OpMove, "x", 5, 0, map[string]any{"who": "a"})
	b := op(domain.OpMove, "x", 5, 1, map[string]any{"who": "b"})

	got := ResolveBatch([]domain.Operation{a, b})
	if len(got) != 1 || got[0].Properties["who"] != "b" {
		t.Fatalf("accepted = %+v, want only the later arrival", got)
	}
}

func TestResolveBatchResizeSameRuleAsMove(t *testing.T) {
	a := op(domain.OpResize, "x", 1, 0, map[string]any{"w": 1})
	b := op(domain.OpResize, "x", 3, 1, map[string]any{"w": 3})

	got := ResolveBatch([]domain.Operation{a, b})
	if len(got) != 1 || got[0].Properties["w"] != 3 {
		t.Fatalf("accepted = %+v, want only the later resize", got)
	}
}

func TestResolveBatchUpdateMergesDisjointFields(t *testing.T) {
	a := op(domain.OpUpdate, "x", 1, 0, map[string]any{"color": "red"})
	b := op(domain.OpUpdate, "x", 2, 1, map[string]any{"size": "big"})

	got := ResolveBatch([]domain.Operation{a, b})
	if len(got) != 2 {
		t.Fatalf("accepted = %d ops, want 2", len(got))
	}
	merged := got[1].Properties
	if merged["color"] != "red" || merged["size"] != "big" {
		t.Fatalf("merged = %+v, want {color:red size:big}", merged)
	}
	if !got[1].Timestamp.Equal(b.Timestamp) {
		t.Fatal("merged result must carry the latest contributing timestamp")
	}
}

func TestResolveBatchUpdateContestedFieldLaterWins(t *testing.T) {
	a := op(domain.OpUpdate, "x", 1, 0, map[string]any{"color": "red"})
	b := op(domain.OpUpdate, "x", 2, 1, map[string]any{"color": "blue"})

	got := ResolveBatch([]domain.Operation{a, b})
	if len(got) != 2 {
		t.Fatalf("accepted = %d ops, want 2", len(got))
	}
	if got[1].Properties["color"] != "blue" {
		t.Fatalf("merged color = %v, want blue (later timestamp wins)", got[1].Properties["color"])
	}
}

func TestResolveBatchUpdateContestedFieldSurvivesLaterDisjointUpdate(t *testing.T) {
	a := op(domain.OpUpdate, "x", 1, 0, map[string]any{"color": "red"})
	b := op(domain.OpUpdate, "x", 2, 1, map[string]any{"color": "blue"})
	c := op(domain.OpUpdate, "x", 3, 2, map[string]any{"size": "big"})

	got := ResolveBatch([]domain.Operation{a, b, c})
	if len(got) != 3 {
		t.Fatalf("accepted = %d ops, want 3", len(got))
	}
	final := got[2].Properties
	if final["color"] != "blue" {
		t.Fatalf("final color = %v, want blue (the later of the two contributors)", final["color"])
	}
	if final["size"] != "big" {
		t.Fatalf("final size = %v, want big", final["size"])
	}
}

func TestResolveBatchUnknownKindPassesThrough(t *testing.T) {
	a := op("mystery", "x", 1, 0, map[string]any{"k": "v"})
	b := op("mystery", "x", 2, 1, map[string]any{"k": "w"})

	got := ResolveBatch([]domain.Operation{a, b})
	if len(got) != 2 {
		t.Fatalf("accepted = %d ops, want 2 (unresolved pass-through)", len(got))
	}
}

func TestResolveBatchSortsOutOfOrderInput(t *testing.T) {
	late := op(domain.OpMove, "x", 9, 0, map[string]any{"who": "late"})
	early := op(domain.OpMove, "x", 1, 1, map[string]any{"who": "early"})

	got := ResolveBatch([]domain.Operation{late, early})
	if len(got) != 1 || got[0].Properties["who"] != "late" {
		t.Fatalf("accepted = %+v, want the later-timestamped move regardless of input order", got)
	}
}
