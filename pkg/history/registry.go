// Package history tracks resolution state carried from one frame to the next
// for stages doing temporal processing.
//
// The registry owns every slot. Stages only hold a graph.SlotID, so several
// stage identities may alias one slot without copying it. Writes go through a
// Pass and become visible only on Commit, at most once per slot per pass.
package history

import (
	"fmt"

	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/types"
)

// Slot is the state of a reference written in a previous frame.
type Slot struct {
	Resolution graph.Resolution
	Crop       graph.Crop
	// Fragments are the stripes the source wrote the reference in.
	Fragments graph.FragmentSet
}

// Registry owns the history slots of one pipeline instance.
type Registry struct {
	slots    []Slot
	valid    []bool
	sources  []graph.StageID
	bySource map[graph.StageID]graph.SlotID

	generation uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{bySource: make(map[graph.StageID]graph.SlotID)}
}

// Declare returns the slot written by source, creating it on first use.
// Declaring the same source again returns the same slot.
func (r *Registry) Declare(source graph.StageID) graph.SlotID {
	if id, ok := r.bySource[source]; ok {
		return id
	}
	id := graph.SlotID(len(r.slots))
	r.slots = append(r.slots, Slot{})
	r.valid = append(r.valid, false)
	r.sources = append(r.sources, source)
	r.bySource[source] = id
	return id
}

// Bind assigns a slot to every reference feeder of g. Feeders naming the same
// history source alias one slot.
func (r *Registry) Bind(g *graph.Graph) error {
	for _, feeder := range g.ByRole(graph.RoleReferenceFeeder) {
		if g.Stage(feeder.HistorySource) == nil {
			return fmt.Errorf("%w: feeder %s reads unknown source %s",
				types.ErrGraphConsistency, feeder.ID, feeder.HistorySource)
		}
		feeder.HistorySlot = r.Declare(feeder.HistorySource)
	}
	return nil
}

// Len returns the number of slots.
func (r *Registry) Len() int { return len(r.slots) }

// Source returns the single authoritative writer of a slot.
func (r *Registry) Source(id graph.SlotID) graph.StageID {
	if int(id) < 0 || int(id) >= len(r.sources) {
		return graph.NoStage
	}
	return r.sources[id]
}

// Get returns the committed value of a slot. ok is false until the slot was
// written by a committed pass.
func (r *Registry) Get(id graph.SlotID) (Slot, bool) {
	if int(id) < 0 || int(id) >= len(r.slots) {
		return Slot{}, false
	}
	return r.slots[id], r.valid[id]
}

// Generation counts committed passes.
func (r *Registry) Generation() uint64 { return r.generation }

// Reset forgets every committed value but keeps slot declarations.
func (r *Registry) Reset() {
	for i := range r.slots {
		r.slots[i] = Slot{}
		r.valid[i] = false
	}
	r.generation = 0
}

// Begin starts a propagation pass.
func (r *Registry) Begin() *Pass {
	return &Pass{r: r, writes: make(map[graph.SlotID]Slot)}
}

// Pass stages the history writes of one propagation pass.
type Pass struct {
	r         *Registry
	writes    map[graph.SlotID]Slot
	committed bool
}

// Read returns the value carried from the previous frame. Writes staged in
// this pass are not visible: every alias of a slot reads the same snapshot.
func (p *Pass) Read(id graph.SlotID) (Slot, bool) {
	return p.r.Get(id)
}

// Write stages the new value of a slot. A second write to the same slot in
// one pass is an invariant violation.
func (p *Pass) Write(id graph.SlotID, s Slot) error {
	if int(id) < 0 || int(id) >= len(p.r.slots) {
		return fmt.Errorf("%w: history slot %d out of range", types.ErrGraphConsistency, id)
	}
	if _, dup := p.writes[id]; dup {
		return fmt.Errorf("%w: history slot %d written twice in one pass", types.ErrGraphConsistency, id)
	}
	p.writes[id] = s
	return nil
}

// SetFragments records the stripes of a slot written in this pass. The
// stripes are only known once the pass is partitioned, after the write.
func (p *Pass) SetFragments(id graph.SlotID, frags graph.FragmentSet) error {
	s, ok := p.writes[id]
	if !ok {
		return fmt.Errorf("%w: history slot %d has stripes but no write in this pass", types.ErrGraphConsistency, id)
	}
	s.Fragments = frags.Clone()
	p.writes[id] = s
	return nil
}

// Written reports whether the slot was written in this pass.
func (p *Pass) Written(id graph.SlotID) bool {
	_, ok := p.writes[id]
	return ok
}

// Writes returns the number of staged writes.
func (p *Pass) Writes() int { return len(p.writes) }

// Slots returns the number of slots in the registry.
func (p *Pass) Slots() int { return p.r.Len() }

// Source returns the authoritative writer of a slot.
func (p *Pass) Source(id graph.SlotID) graph.StageID { return p.r.Source(id) }

// Commit publishes the staged writes. Committing twice is a no-op.
func (p *Pass) Commit() {
	if p.committed {
		return
	}
	for id, s := range p.writes {
		p.r.slots[id] = s
		p.r.valid[id] = true
	}
	p.r.generation++
	p.committed = true
}
