package history

import (
	"errors"
	"testing"

	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/graph/graphtest"
	"github.com/menta2k/isp-configurator/pkg/types"
)

func TestBindAliasesOneSlot(t *testing.T) {
	g := graphtest.Standard()
	r := New()
	if err := r.Bind(g); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	luma := g.Stage(graphtest.TnrRefLuma).HistorySlot
	chroma := g.Stage(graphtest.TnrRefChrom).HistorySlot
	if luma == graph.NoSlot || luma != chroma {
		t.Errorf("feeders should alias one slot, got %d and %d", luma, chroma)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if r.Source(luma) != graphtest.TnrBlend {
		t.Errorf("Source() = %s, want %s", r.Source(luma), graphtest.TnrBlend)
	}
	if g.Stage(graphtest.Cropper).HistorySlot != graph.NoSlot {
		t.Error("non-feeder stages keep NoSlot")
	}
}

func TestPassVisibility(t *testing.T) {
	r := New()
	id := r.Declare(graphtest.TnrBlend)
	want := Slot{Resolution: graph.Resolution{Width: 1920, Height: 1440}}

	p := r.Begin()
	if _, ok := p.Read(id); ok {
		t.Error("empty slot should not be readable")
	}
	if err := p.Write(id, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, ok := p.Read(id); ok {
		t.Error("staged write must not be visible before commit")
	}
	if _, ok := r.Get(id); ok {
		t.Error("registry changed before commit")
	}

	p.Commit()
	got, ok := r.Get(id)
	if !ok || got.Resolution != want.Resolution {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
	if r.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", r.Generation())
	}
	p.Commit()
	if r.Generation() != 1 {
		t.Error("second Commit must be a no-op")
	}
}

func TestSingleWritePerPass(t *testing.T) {
	r := New()
	id := r.Declare(graphtest.TnrBlend)
	p := r.Begin()
	if err := p.Write(id, Slot{}); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}
	err := p.Write(id, Slot{})
	if !errors.Is(err, types.ErrGraphConsistency) {
		t.Errorf("second Write() = %v, want graph consistency error", err)
	}
	if p.Writes() != 1 || !p.Written(id) {
		t.Errorf("Writes() = %d", p.Writes())
	}
	if err := p.Write(graph.SlotID(7), Slot{}); err == nil {
		t.Error("out of range write should fail")
	}
}

func TestSetFragments(t *testing.T) {
	r := New()
	id := r.Declare(graphtest.TnrBlend)
	frags := graph.FragmentSet{{InputWidth: 960, OutputWidth: 960}, {StartOffset: 960, InputWidth: 960, OutputWidth: 960}}

	p := r.Begin()
	if err := p.SetFragments(id, frags); !errors.Is(err, types.ErrGraphConsistency) {
		t.Errorf("SetFragments() before Write = %v, want graph consistency error", err)
	}
	if err := p.Write(id, Slot{Resolution: graph.Resolution{Width: 1920, Height: 1440}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := p.SetFragments(id, frags); err != nil {
		t.Fatalf("SetFragments() error = %v", err)
	}
	frags[0].InputWidth = 1
	if _, ok := p.Read(id); ok {
		t.Error("stripes visible before commit")
	}
	p.Commit()

	got, _ := r.Get(id)
	if len(got.Fragments) != 2 || got.Fragments.InputSum() != 1920 {
		t.Errorf("committed stripes = %+v", got.Fragments)
	}
}

func TestAbandonedPass(t *testing.T) {
	r := New()
	id := r.Declare(graphtest.TnrBlend)
	first := r.Begin()
	_ = first.Write(id, Slot{Resolution: graph.Resolution{Width: 10, Height: 10}})
	first.Commit()

	abandoned := r.Begin()
	_ = abandoned.Write(id, Slot{Resolution: graph.Resolution{Width: 20, Height: 20}})

	got, _ := r.Get(id)
	if got.Resolution.Width != 10 {
		t.Errorf("uncommitted pass leaked into registry: %+v", got)
	}
}

func TestReset(t *testing.T) {
	r := New()
	id := r.Declare(graphtest.TnrBlend)
	p := r.Begin()
	_ = p.Write(id, Slot{})
	p.Commit()

	r.Reset()
	if _, ok := r.Get(id); ok {
		t.Error("Reset should forget committed values")
	}
	if r.Declare(graphtest.TnrBlend) != id {
		t.Error("Reset should keep declarations")
	}
}
