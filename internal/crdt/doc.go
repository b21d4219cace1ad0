// Package crdt implements the mergeable layout document shared by all
// members of a room. It is a delta-state last-writer-wins map: every
// field of every component is a register stamped with a lamport clock
// and an actor id, and merging any set of deltas in any order converges
// every replica on the same state.
package crdt

import (
	"encoding/json"
	"sort"

	"github.com/luminodash/collab/internal/domain"
)

// Register is one LWW cell. The later timestamp wins; equal timestamps
// fall back to the lexicographically greater actor so every replica
// picks the same winner.
type Register struct {
	Value     json.RawMessage `json:"v"`
	Timestamp int64           `json:"t"`
	Actor     string          `json:"a"`
}

func (r Register) newerThan(o Register) bool {
	if r.Timestamp != o.Timestamp {
		return r.Timestamp > o.Timestamp
	}
	return r.Actor > o.Actor
}

// ComponentState is the replicated state of one widget: a register per
// prop field plus an optional deletion tombstone. A tombstone beats any
// field register that is not newer than it.
type ComponentState struct {
	Fields  map[string]Register `json:"f,omitempty"`
	Deleted *Register           `json:"d,omitempty"`
}

// Delta is the unit of replication: a partial document carrying only
// the entries the sender wants merged.
type Delta struct {
	Components map[string]ComponentState `json:"c,omitempty"`
	Layout     *Register                 `json:"l,omitempty"`
	Theme      *Register                 `json:"th,omitempty"`
}

func (d *Delta) Empty() bool {
	return d == nil || (len(d.Components) == 0 && d.Layout == nil && d.Theme == nil)
}

func (d *Delta) addField(id, field string, reg Register) {
	if d.Components == nil {
		d.Components = make(map[string]ComponentState)
	}
	cs := d.Components[id]
	if cs.Fields == nil {
		cs.Fields = make(map[string]Register)
	}
	cs.Fields[field] = reg
	d.Components[id] = cs
}

// Doc is one replica of the layout document. It is not goroutine-safe;
// the owning room serializes access.
type Doc struct {
	actor      string
	clock      int64
	components map[string]*ComponentState
	layout     Register
	theme      Register
	onUpdate   func(Delta)
}

func NewDoc(actor string) *Doc {
	return &Doc{
		actor:      actor,
		components: make(map[string]*ComponentState),
	}
}

// OnUpdate registers the changed callback. It fires after every merge
// that altered local state, local mutations included, with the delta
// that was applied.
func (d *Doc) OnUpdate(fn func(Delta)) { d.onUpdate = fn }

// tick advances the lamport clock past an observed remote timestamp.
func (d *Doc) tick(observed int64) int64 {
	if observed > d.clock {
		d.clock = observed
	}
	d.clock++
	return d.clock
}

// Merge applies a remote delta and returns the sub-delta that actually
// changed local state, or nil if every entry was stale.
func (d *Doc) Merge(delta Delta) *Delta {
	changed := &Delta{}
	for id, remote := range delta.Components {
		local, ok := d.components[id]
		if !ok {
			local = &ComponentState{Fields: make(map[string]Register)}
			d.components[id] = local
		}
		if remote.Deleted != nil {
			d.observe(remote.Deleted.Timestamp)
			if local.Deleted == nil || remote.Deleted.newerThan(*local.Deleted) {
				tomb := *remote.Deleted
				local.Deleted = &tomb
				cs := changed.Components[id]
				cs.Deleted = &tomb
				if changed.Components == nil {
					changed.Components = make(map[string]ComponentState)
				}
				changed.Components[id] = cs
			}
		}
		for field, reg := range remote.Fields {
			d.observe(reg.Timestamp)
			cur, ok := local.Fields[field]
			if !ok || reg.newerThan(cur) {
				local.Fields[field] = reg
				changed.addField(id, field, reg)
			}
		}
	}
	if delta.Layout != nil {
		d.observe(delta.Layout.Timestamp)
		if delta.Layout.newerThan(d.layout) {
			d.layout = *delta.Layout
			reg := d.layout
			changed.Layout = &reg
		}
	}
	if delta.Theme != nil {
		d.observe(delta.Theme.Timestamp)
		if delta.Theme.newerThan(d.theme) {
			d.theme = *delta.Theme
			reg := d.theme
			changed.Theme = &reg
		}
	}
	if changed.Empty() {
		return nil
	}
	if d.onUpdate != nil {
		d.onUpdate(*changed)
	}
	return changed
}

func (d *Doc) observe(ts int64) {
	if ts > d.clock {
		d.clock = ts
	}
}

// Diff returns the entries where the local document is strictly newer
// than the given remote state. This is the reply half of the sync
// handshake: "here is everything you are missing".
func (d *Doc) Diff(remote Delta) *Delta {
	out := &Delta{}
	for id, local := range d.components {
		rcs, known := remote.Components[id]
		if local.Deleted != nil {
			if !known || rcs.Deleted == nil || local.Deleted.newerThan(*rcs.Deleted) {
				tomb := *local.Deleted
				if out.Components == nil {
					out.Components = make(map[string]ComponentState)
				}
				cs := out.Components[id]
				cs.Deleted = &tomb
				out.Components[id] = cs
			}
		}
		for field, reg := range local.Fields {
			cur, ok := rcs.Fields[field]
			if !known || !ok || reg.newerThan(cur) {
				out.addField(id, field, reg)
			}
		}
	}
	if d.layout.Value != nil && (remote.Layout == nil || d.layout.newerThan(*remote.Layout)) {
		reg := d.layout
		out.Layout = &reg
	}
	if d.theme.Value != nil && (remote.Theme == nil || d.theme.newerThan(*remote.Theme)) {
		reg := d.theme
		out.Theme = &reg
	}
	if out.Empty() {
		return nil
	}
	return out
}

// State returns the full document as a delta (sync step one payload).
func (d *Doc) State() Delta {
	return mustDelta(d.Diff(Delta{}))
}

func mustDelta(d *Delta) Delta {
	if d == nil {
		return Delta{}
	}
	return *d
}

func (d *Doc) register(value any) Register {
	raw, _ := json.Marshal(value)
	return Register{Value: raw, Timestamp: d.tick(0), Actor: d.actor}
}

// SetComponentField is a local mutation; it goes through Merge so the
// changed callback fires like it does for remote deltas.
func (d *Doc) SetComponentField(id, field string, value any) {
	delta := Delta{}
	delta.addField(id, field, d.register(value))
	d.Merge(delta)
}

// SetComponentFields applies several prop fields as one delta.
func (d *Doc) SetComponentFields(id string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	delta := Delta{}
	for field, value := range fields {
		delta.addField(id, field, d.register(value))
	}
	d.Merge(delta)
}

// RemoveComponent tombstones a widget.
func (d *Doc) RemoveComponent(id string) {
	tomb := d.register(true)
	d.Merge(Delta{Components: map[string]ComponentState{id: {Deleted: &tomb}}})
}

func (d *Doc) SetLayout(layout domain.GridLayout) {
	reg := d.register(layout)
	d.Merge(Delta{Layout: &reg})
}

func (d *Doc) SetTheme(theme string) {
	reg := d.register(theme)
	d.Merge(Delta{Theme: &reg})
}

// Load seeds a fresh document from the persisted layout schema. Seeded
// registers get ordinary local timestamps, so later edits win over the
// seed. Call before wiring OnUpdate; seeding is not a change event.
func (d *Doc) Load(ls domain.LayoutSchema) {
	saved := d.onUpdate
	d.onUpdate = nil
	for _, comp := range ls.Components {
		fields := make(map[string]any, len(comp.Props))
		for k, v := range comp.Props {
			fields[k] = v
		}
		d.SetComponentFields(comp.ID, fields)
	}
	d.SetLayout(ls.Layout)
	d.SetTheme(ls.Theme)
	d.onUpdate = saved
}

// Snapshot translates the current document back into the persisted
// layout shape. Tombstoned components are omitted; output is sorted by
// component id so snapshots are deterministic.
func (d *Doc) Snapshot() domain.LayoutSchema {
	out := domain.LayoutSchema{Components: []domain.Component{}}
	ids := make([]string, 0, len(d.components))
	for id := range d.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cs := d.components[id]
		if cs.tombstoned() {
			continue
		}
		comp := domain.Component{ID: id, Props: make(map[string]any, len(cs.Fields))}
		for field, reg := range cs.Fields {
			var v any
			if err := json.Unmarshal(reg.Value, &v); err != nil {
				continue
			}
			comp.Props[field] = v
		}
		out.Components = append(out.Components, comp)
	}
	if d.layout.Value != nil {
		_ = json.Unmarshal(d.layout.Value, &out.Layout)
	}
	if d.theme.Value != nil {
		_ = json.Unmarshal(d.theme.Value, &out.Theme)
	}
	return out
}

// tombstoned reports whether the deletion marker beats every live field.
func (cs *ComponentState) tombstoned() bool {
	if cs.Deleted == nil {
		return false
	}
	for _, reg := range cs.Fields {
		if reg.newerThan(*cs.Deleted) {
			return false
		}
	}
	return true
}
