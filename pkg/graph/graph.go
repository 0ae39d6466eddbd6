// Package graph is the in-memory model of one selected pipeline instance.
//
// A Graph is an ordered list of stage descriptors in topological order,
// indexed by identity and by role so that the designated stages (downscaler,
// cropper, upscaler, main sink, temporal reference stages) are found in O(1).
// The catalog fixes the topology; the propagator and the fragment
// partitioner only write resolution, crop and fragment fields.
package graph

import (
	"fmt"
	"sort"

	"github.com/menta2k/isp-configurator/pkg/types"
)

// Purpose is a virtual output purpose mapped to a concrete sink.
type Purpose string

const (
	PurposePreview  Purpose = "preview"
	PurposeVideo    Purpose = "video"
	PurposeStill    Purpose = "still"
	PurposePostProc Purpose = "postproc"
)

// UpscalerState keeps what was asked of the upscaler apart from what the
// hardware rounding produced.
type UpscalerState struct {
	RequestedInput  Resolution
	RequestedOutput Resolution
	ActualInput     Resolution
	ActualOutput    Resolution
}

// Graph is one pipeline instance.
type Graph struct {
	Name    string
	Variant string
	Sensor  Resolution
	Stages  []StageDescriptor

	// Sinks maps virtual purposes to output stages. MainSink is the sink the
	// upscaler targets.
	Sinks    map[Purpose]StageID
	MainSink StageID

	// Formats overrides or extends the builtin format table.
	Formats map[string]Format

	Upscaler UpscalerState

	index map[StageID]int
	roles map[Role][]int
}

// New builds a graph from stages already in topological order. Sinks and
// formats are filled in by the caller before Validate is called. History
// slots start unassigned.
func New(name string, sensor Resolution, stages []StageDescriptor) *Graph {
	g := &Graph{
		Name:    name,
		Sensor:  sensor,
		Stages:  stages,
		Sinks:   make(map[Purpose]StageID),
		Formats: make(map[string]Format),
	}
	for i := range g.Stages {
		g.Stages[i].HistorySlot = NoSlot
	}
	g.reindex()
	return g
}

func (g *Graph) reindex() {
	g.index = make(map[StageID]int, len(g.Stages))
	g.roles = make(map[Role][]int)
	for i, s := range g.Stages {
		g.index[s.ID] = i
		g.roles[s.Role] = append(g.roles[s.Role], i)
	}
}

// Stage returns the stage with the given identity, or nil.
func (g *Graph) Stage(id StageID) *StageDescriptor {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return &g.Stages[i]
}

// Position returns the topological position of a stage, or -1.
func (g *Graph) Position(id StageID) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// ByRole returns every stage with the role, in graph order.
func (g *Graph) ByRole(role Role) []*StageDescriptor {
	idx := g.roles[role]
	out := make([]*StageDescriptor, 0, len(idx))
	for _, i := range idx {
		out = append(out, &g.Stages[i])
	}
	return out
}

// First returns the first stage with the role, or nil.
func (g *Graph) First(role Role) *StageDescriptor {
	idx := g.roles[role]
	if len(idx) == 0 {
		return nil
	}
	return &g.Stages[idx[0]]
}

func (g *Graph) Input() *StageDescriptor      { return g.First(RoleInput) }
func (g *Graph) DownScaler() *StageDescriptor { return g.First(RoleDownScaler) }
func (g *Graph) Cropper() *StageDescriptor    { return g.First(RoleCropper) }
func (g *Graph) UpScaler() *StageDescriptor   { return g.First(RoleUpScaler) }

// MainOutput returns the sink the upscaler targets.
func (g *Graph) MainOutput() *StageDescriptor {
	return g.Stage(g.MainSink)
}

// Sink resolves a purpose to its output stage.
func (g *Graph) Sink(p Purpose) *StageDescriptor {
	id, ok := g.Sinks[p]
	if !ok {
		return nil
	}
	return g.Stage(id)
}

// Format resolves a format name, catalog formats first.
func (g *Graph) Format(name string) (Format, bool) {
	if f, ok := g.Formats[name]; ok {
		return f, true
	}
	return BuiltinFormat(name)
}

// StageFormat resolves the format of a stage.
func (g *Graph) StageFormat(s *StageDescriptor) (Format, error) {
	f, ok := g.Format(s.Format)
	if !ok {
		return Format{}, fmt.Errorf("%w: stage %s (%s) uses unknown format %q",
			types.ErrGraphConsistency, s.Name, s.ID, s.Format)
	}
	return f, nil
}

// IsUpstreamOf reports whether a lies on the upstream chain of b.
func (g *Graph) IsUpstreamOf(a, b StageID) bool {
	for cur := g.Stage(b); cur != nil && cur.Upstream != NoStage; cur = g.Stage(cur.Upstream) {
		if cur.Upstream == a {
			return true
		}
	}
	return false
}

// Validate checks the topology invariants the propagator relies on.
func (g *Graph) Validate() error {
	if g.Sensor.IsZero() {
		return fmt.Errorf("%w: graph %s has no sensor resolution", types.ErrGraphConsistency, g.Name)
	}
	seen := make(map[StageID]bool, len(g.Stages))
	for i := range g.Stages {
		s := &g.Stages[i]
		if s.ID == NoStage {
			return fmt.Errorf("%w: stage %q has no identity", types.ErrGraphConsistency, s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate stage identity %s", types.ErrGraphConsistency, s.ID)
		}
		if s.Role == RoleInput {
			if s.Upstream != NoStage {
				return fmt.Errorf("%w: input stage %s has an upstream", types.ErrGraphConsistency, s.ID)
			}
		} else if !seen[s.Upstream] {
			return fmt.Errorf("%w: stage %s upstream %s missing or not before it",
				types.ErrGraphConsistency, s.ID, s.Upstream)
		}
		seen[s.ID] = true
		if s.Role != RoleInput {
			if _, err := g.StageFormat(s); err != nil {
				return err
			}
		}
	}

	for _, role := range []Role{RoleInput, RoleDownScaler, RoleCropper} {
		if n := len(g.roles[role]); n != 1 {
			return fmt.Errorf("%w: graph %s needs exactly one %s stage, has %d",
				types.ErrGraphConsistency, g.Name, role, n)
		}
	}
	if n := len(g.roles[RoleUpScaler]); n > 1 {
		return fmt.Errorf("%w: graph %s has %d upscalers", types.ErrGraphConsistency, g.Name, n)
	}
	if g.DownScaler().Baseline.IsZero() {
		return fmt.Errorf("%w: downscaler has no output target", types.ErrGraphConsistency)
	}
	if !g.IsUpstreamOf(g.DownScaler().ID, g.Cropper().ID) {
		return fmt.Errorf("%w: cropper is not fed by the downscaler", types.ErrGraphConsistency)
	}

	main := g.MainOutput()
	if main == nil || main.Role != RoleOutput {
		return fmt.Errorf("%w: main sink %s is not an output stage", types.ErrGraphConsistency, g.MainSink)
	}
	for _, out := range g.ByRole(RoleOutput) {
		if out.Baseline.IsZero() {
			return fmt.Errorf("%w: sink %s has no resolution", types.ErrGraphConsistency, out.ID)
		}
	}
	for p, id := range g.Sinks {
		if s := g.Stage(id); s == nil || s.Role != RoleOutput {
			return fmt.Errorf("%w: purpose %s maps to non-sink %s", types.ErrGraphConsistency, p, id)
		}
	}
	for _, f := range g.ByRole(RoleReferenceFeeder) {
		src := g.Stage(f.HistorySource)
		if src == nil || src.Role != RoleReferenceProducer {
			return fmt.Errorf("%w: feeder %s history source %s is not a reference producer",
				types.ErrGraphConsistency, f.ID, f.HistorySource)
		}
	}
	return nil
}

// Clone deep-copies the graph. The propagator works on a clone and the
// caller commits it only when the whole pass succeeded.
func (g *Graph) Clone() *Graph {
	c := *g
	c.Stages = make([]StageDescriptor, len(g.Stages))
	for i := range g.Stages {
		c.Stages[i] = g.Stages[i].clone()
	}
	c.Sinks = make(map[Purpose]StageID, len(g.Sinks))
	for k, v := range g.Sinks {
		c.Sinks[k] = v
	}
	c.Formats = make(map[string]Format, len(g.Formats))
	for k, v := range g.Formats {
		c.Formats[k] = v
	}
	c.reindex()
	return &c
}

// Adopt replaces the contents of g with a scratch graph produced by Clone.
// Pointers to g stay valid; src must not be used afterwards.
func (g *Graph) Adopt(src *Graph) {
	*g = *src
}

// KeyResolutionEqual reports whether every stage has the same input and
// output resolution and the same stripe count in both graphs. A difference
// requires a full hardware reconfiguration; crop-only changes do not.
func (g *Graph) KeyResolutionEqual(o *Graph) bool {
	if len(g.Stages) != len(o.Stages) {
		return false
	}
	for i := range g.Stages {
		a, b := &g.Stages[i], &o.Stages[i]
		if a.ID != b.ID || a.Input != b.Input || a.Output != b.Output {
			return false
		}
		if a.Fragments.Count() != b.Fragments.Count() {
			return false
		}
	}
	return true
}

// Purposes returns the mapped purposes in a stable order.
func (g *Graph) Purposes() []Purpose {
	out := make([]Purpose, 0, len(g.Sinks))
	for p := range g.Sinks {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
