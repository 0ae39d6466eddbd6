// Package fragment splits resolved stages into the horizontal stripes the
// hardware processes one at a time.
//
// The downscaler output is split first. Every other stage derives its
// stripes from its upstream neighbour so that stripe i of each stage covers
// the same image content. Stripes cut away entirely by a crop are kept as
// vanished entries and dropped from the hardware descriptor list.
package fragment

import (
	"fmt"
	"math"

	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/history"
	"github.com/menta2k/isp-configurator/pkg/types"
)

const (
	DefaultMinStripeBeforeReference = 128
	DefaultMinStripeAfterReference  = 64
)

// Config holds the minimum stripe widths.
type Config struct {
	// MinStripeBeforeReference applies up to and including the temporal
	// reference producer.
	MinStripeBeforeReference int `json:"min_stripe_before_reference" yaml:"min_stripe_before_reference"`
	// MinStripeAfterReference applies downstream of the reference producer.
	MinStripeAfterReference int `json:"min_stripe_after_reference" yaml:"min_stripe_after_reference"`
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MinStripeBeforeReference: DefaultMinStripeBeforeReference,
		MinStripeAfterReference:  DefaultMinStripeAfterReference,
	}
}

// Narrow records a stripe that stayed below its minimum width because it had
// no neighbour to merge into.
type Narrow struct {
	Stage graph.StageID
	Index int
	Width int
}

// Result describes one partitioning.
type Result struct {
	// Count is the number of downscaler stripes after merging.
	Count int
	// OutputStarts holds the output column of every stripe per stage. The
	// hardware descriptors of scaling stages do not carry it.
	OutputStarts map[graph.StageID][]int
	Narrow       []Narrow
}

// Partitioner computes fragment sets.
type Partitioner struct {
	cfg Config
}

// New creates a partitioner. Zero limits take their defaults.
func New(cfg Config) *Partitioner {
	if cfg.MinStripeBeforeReference <= 0 {
		cfg.MinStripeBeforeReference = DefaultMinStripeBeforeReference
	}
	if cfg.MinStripeAfterReference <= 0 {
		cfg.MinStripeAfterReference = DefaultMinStripeAfterReference
	}
	return &Partitioner{cfg: cfg}
}

// span is one stripe in both the input and the output coordinates of a stage.
type span struct {
	inStart, inEnd   int
	outStart, outEnd int
	vanished         bool
}

func (s span) outWidth() int { return s.outEnd - s.outStart }

// Configure splits every stage of the resolved graph g into count stripes,
// writing each stage's Fragments in place. Reference feeders read the
// current producer stripes.
func (p *Partitioner) Configure(g *graph.Graph, count int) (*Result, error) {
	return p.ConfigureWithHistory(g, count, nil)
}

// ConfigureWithHistory is Configure for a graph propagated in pass. Feeders
// read the stripes stored with the reference of the previous frame, and the
// producer stripes of this frame are attached to every slot the pass wrote.
func (p *Partitioner) ConfigureWithHistory(g *graph.Graph, count int, pass *history.Pass) (*Result, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: %d", types.ErrUnsupportedFragmentCount, count)
	}
	for i := range g.Stages {
		s := &g.Stages[i]
		s.Fragments = nil
		if s.Role == graph.RoleInput {
			continue
		}
		f, err := g.StageFormat(s)
		if err != nil {
			return nil, err
		}
		if count > f.MaxFragments {
			return nil, fmt.Errorf("%w: %d stripes requested, format %s of %s allows %d",
				types.ErrUnsupportedFragmentCount, count, f.Name, s.Name, f.MaxFragments)
		}
	}

	ds := g.DownScaler()
	if ds == nil {
		return nil, fmt.Errorf("%w: no downscaler", types.ErrGraphConsistency)
	}
	dsSpans, err := p.downScaler(g, ds, count)
	if err != nil {
		return nil, err
	}

	res := &Result{Count: len(dsSpans), OutputStarts: make(map[graph.StageID][]int)}
	spans := map[graph.StageID][]span{ds.ID: dsSpans}
	dsPos := g.Position(ds.ID)
	producer := g.First(graph.RoleReferenceProducer)

	for i := range g.Stages {
		s := &g.Stages[i]
		if s.Role == graph.RoleInput || s.ID == ds.ID {
			continue
		}
		var cur []span
		switch {
		case i < dsPos:
			if s.Role != graph.RolePassThrough {
				return nil, fmt.Errorf("%w: %s stage %s ahead of the downscaler",
					types.ErrGraphConsistency, s.Role, s.ID)
			}
			cur = sensorSpans(dsSpans, ds.Input.Width)
		case s.Role == graph.RoleReferenceFeeder:
			src, ok := spans[s.HistorySource]
			if !ok {
				return nil, fmt.Errorf("%w: feeder %s partitioned before its producer %s",
					types.ErrGraphConsistency, s.ID, s.HistorySource)
			}
			cur = append([]span(nil), src...)
		case s.Role == graph.RolePassThrough || s.Role == graph.RoleReferenceProducer:
			up, ok := spans[s.Upstream]
			if !ok {
				return nil, fmt.Errorf("%w: upstream %s of %s not partitioned",
					types.ErrGraphConsistency, s.Upstream, s.ID)
			}
			cur = copySpans(up)
		default:
			up, ok := spans[s.Upstream]
			if !ok {
				return nil, fmt.Errorf("%w: upstream %s of %s not partitioned",
					types.ErrGraphConsistency, s.Upstream, s.ID)
			}
			f, _ := g.StageFormat(s)
			cur, err = clipAndScale(up, s, f.PixelAlignment())
			if err != nil {
				return nil, fmt.Errorf("partitioning %s (%s): %w", s.Name, s.ID, err)
			}
			minWidth := p.cfg.MinStripeBeforeReference
			if producer != nil && g.IsUpstreamOf(producer.ID, s.ID) {
				minWidth = p.cfg.MinStripeAfterReference
			}
			cur = mergeNarrow(cur, minWidth)
			for idx, sp := range cur {
				if !sp.vanished && sp.outWidth() < minWidth {
					res.Narrow = append(res.Narrow, Narrow{Stage: s.ID, Index: idx, Width: sp.outWidth()})
					logging.L().Warn("fragment: stripe below minimum width",
						"stage", s.Name, "index", idx, "width", sp.outWidth(), "min", minWidth)
				}
			}
		}
		spans[s.ID] = cur
	}

	for i := range g.Stages {
		s := &g.Stages[i]
		cur, ok := spans[s.ID]
		if !ok {
			continue
		}
		if s.Role == graph.RoleReferenceFeeder {
			s.Fragments = feederFragments(s, g.Stage(s.HistorySource).Fragments, previous(pass, s))
		} else {
			frags, err := build(g, s, cur)
			if err != nil {
				return nil, err
			}
			s.Fragments = frags
		}
		starts := make([]int, len(cur))
		for j, sp := range cur {
			starts[j] = sp.outStart
		}
		res.OutputStarts[s.ID] = starts
	}

	if pass != nil {
		for i := 0; i < pass.Slots(); i++ {
			id := graph.SlotID(i)
			if !pass.Written(id) {
				continue
			}
			src := g.Stage(pass.Source(id))
			if src == nil {
				return nil, fmt.Errorf("%w: history slot %d has no source stage", types.ErrGraphConsistency, id)
			}
			if err := pass.SetFragments(id, src.Fragments); err != nil {
				return nil, err
			}
		}
	}

	logging.L().Debug("fragment: partitioned", "graph", g.Name, "requested", count, "count", res.Count)
	return res, nil
}

// previous returns the stripes stored with the reference feeder s reads, or
// nil when it reads the current frame.
func previous(pass *history.Pass, s *graph.StageDescriptor) graph.FragmentSet {
	if pass == nil {
		return nil
	}
	slot, ok := pass.Read(s.HistorySlot)
	if !ok || slot.Resolution != s.Input {
		return nil
	}
	return slot.Fragments
}

// feederFragments gives a feeder the output stripes of the current producer
// and, for each live stripe in order, the reference columns written by the
// producer stripe of the same index. Surplus reference stripes fold into the
// last live stripe, so the input widths always sum to the feeder input.
func feederFragments(s *graph.StageDescriptor, cur, prev graph.FragmentSet) graph.FragmentSet {
	out := cur.Clone()
	if prev.InputSum() != s.Input.Width {
		prev = cur
		if cur.InputSum() != s.Input.Width {
			prev = rescale(cur, s.Input.Width)
		}
	}
	src := prev.Descriptors()
	k, last, end := 0, -1, 0
	for i := range out {
		if out[i].Vanished {
			continue
		}
		last = i
		if k < len(src) {
			out[i].StartOffset, out[i].InputWidth = src[k].StartOffset, src[k].InputWidth
			end = src[k].StartOffset + src[k].InputWidth
			k++
		} else {
			out[i].StartOffset, out[i].InputWidth = end, 0
		}
	}
	for ; last >= 0 && k < len(src); k++ {
		out[last].InputWidth += src[k].InputWidth
	}
	return out
}

// rescale maps the input boundaries of set onto a line width columns wide.
func rescale(set graph.FragmentSet, width int) graph.FragmentSet {
	total := set.InputSum()
	out := make(graph.FragmentSet, len(set))
	pos, acc := 0, 0
	for i, f := range set {
		out[i] = graph.Fragment{StartOffset: pos, Vanished: f.Vanished}
		if f.Vanished || total == 0 {
			continue
		}
		acc += f.InputWidth
		end := width
		if acc < total {
			end = graph.AlignDown(acc*width/total, 2)
		}
		out[i].InputWidth = end - pos
		pos = end
	}
	return out
}

// downScaler splits the downscaler output into count aligned stripes and
// maps each one back onto the consumed input.
func (p *Partitioner) downScaler(g *graph.Graph, ds *graph.StageDescriptor, count int) ([]span, error) {
	w := ds.Output.Width
	minWidth := p.cfg.MinStripeBeforeReference
	if w < minWidth {
		return nil, fmt.Errorf("%w: downscaler output %d is narrower than the %d pixel minimum stripe",
			types.ErrUnsupportedFragmentCount, w, minWidth)
	}
	f, err := g.StageFormat(ds)
	if err != nil {
		return nil, err
	}
	align := f.PixelAlignment()

	bounds := make([]int, count+1)
	for i := 0; i < count; i++ {
		bounds[i] = graph.AlignDown(i*w/count, align)
	}
	bounds[count] = w
	bounds = mergeBounds(bounds, minWidth)

	consumed := ds.CroppedInput().Width
	left := ds.Crop.Left
	inPos := func(x int) int {
		if x == w {
			return left + consumed
		}
		return left + graph.AlignDown(int(math.Round(float64(x)*float64(consumed)/float64(w))), 2)
	}

	out := make([]span, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		out = append(out, span{
			inStart:  inPos(bounds[i]),
			inEnd:    inPos(bounds[i+1]),
			outStart: bounds[i],
			outEnd:   bounds[i+1],
		})
	}
	return out, nil
}

// mergeBounds drops boundaries until every stripe is at least minWidth
// wide. A narrow stripe is folded into the one after it; a narrow last
// stripe is folded into the one before.
func mergeBounds(bounds []int, minWidth int) []int {
	last := len(bounds) - 1
	out := []int{bounds[0]}
	for i := 1; i < last; i++ {
		if bounds[i]-out[len(out)-1] < minWidth {
			continue
		}
		out = append(out, bounds[i])
	}
	out = append(out, bounds[last])
	if n := len(out); n > 2 && out[n-1]-out[n-2] < minWidth {
		out = append(out[:n-2], out[n-1])
	}
	return out
}

// mergeNarrow folds stripes narrower than minWidth into a neighbour. The folded
// stripe keeps its index as a vanished entry.
func mergeNarrow(spans []span, minWidth int) []span {
	for {
		live := make([]int, 0, len(spans))
		for i, sp := range spans {
			if !sp.vanished {
				live = append(live, i)
			}
		}
		if len(live) < 2 {
			return spans
		}
		merged := false
		for k, i := range live {
			if spans[i].outWidth() >= minWidth {
				continue
			}
			if k == 0 {
				next := live[1]
				spans[next].inStart = spans[i].inStart
				spans[next].outStart = spans[i].outStart
			} else {
				prev := live[k-1]
				spans[prev].inEnd = spans[i].inEnd
				spans[prev].outEnd = spans[i].outEnd
			}
			spans[i].vanished = true
			spans[i].outEnd = spans[i].outStart
			merged = true
			break
		}
		if !merged {
			return spans
		}
	}
}

// sensorSpans turns the downscaler input partition into the partition of a
// stage ahead of it, which sees the full sensor line.
func sensorSpans(ds []span, width int) []span {
	out := make([]span, len(ds))
	for i, sp := range ds {
		start, end := sp.inStart, sp.inEnd
		if i == 0 {
			start = 0
		}
		if i == len(ds)-1 {
			end = width
		}
		out[i] = span{inStart: start, inEnd: end, outStart: start, outEnd: end}
	}
	return out
}

// copySpans gives a geometry-preserving stage the stripes of its upstream.
func copySpans(up []span) []span {
	out := make([]span, len(up))
	for i, sp := range up {
		out[i] = span{
			inStart: sp.outStart, inEnd: sp.outEnd,
			outStart: sp.outStart, outEnd: sp.outEnd,
			vanished: sp.vanished,
		}
	}
	return out
}

// clipAndScale clips the upstream stripes to the crop of s and scales them
// onto its output. Boundaries map through one monotonic function that sends
// the consumed width exactly onto the output width, so the surviving
// stripes tile the output.
func clipAndScale(up []span, s *graph.StageDescriptor, align int) ([]span, error) {
	consumed := s.CroppedInput().Width
	if consumed <= 0 || s.Output.Width <= 0 {
		return nil, fmt.Errorf("%w: stage consumes %d columns into %d",
			types.ErrFragmentGeometry, consumed, s.Output.Width)
	}
	lo, hi := s.Crop.Left, s.Crop.Left+consumed
	mapPos := func(x int) int {
		if x >= consumed {
			return s.Output.Width
		}
		return graph.AlignDown(int(math.Round(float64(x)*float64(s.Output.Width)/float64(consumed))), align)
	}
	// Input edges follow the aligned output edges back through the scale.
	invPos := func(o int) int {
		if o >= s.Output.Width {
			return hi
		}
		return lo + graph.AlignDown(int(math.Round(float64(o)*float64(consumed)/float64(s.Output.Width))), 2)
	}

	out := make([]span, len(up))
	for i, u := range up {
		a, b := max(u.outStart, lo), min(u.outEnd, hi)
		if u.vanished || b <= a {
			out[i] = span{inStart: a, inEnd: a, vanished: true}
			continue
		}
		oa, ob := mapPos(a-lo), mapPos(b-lo)
		if ob < oa {
			return nil, fmt.Errorf("%w: stripe %d maps to [%d,%d)", types.ErrFragmentGeometry, i, oa, ob)
		}
		// A stripe collapsed by the scale is folded into a neighbour by
		// mergeNarrow.
		out[i] = span{inStart: invPos(oa), inEnd: invPos(ob), outStart: oa, outEnd: ob}
	}
	return out, nil
}

// build converts spans into hardware fragments. Output stages also get the
// start address of every stripe in each plane.
func build(g *graph.Graph, s *graph.StageDescriptor, spans []span) (graph.FragmentSet, error) {
	var f graph.Format
	withPlanes := false
	if s.Role == graph.RoleOutput {
		var err error
		if f, err = g.StageFormat(s); err != nil {
			return nil, err
		}
		withPlanes = true
	}
	set := make(graph.FragmentSet, len(spans))
	for i, sp := range spans {
		in, out := sp.inEnd-sp.inStart, sp.outWidth()
		if in < 0 || out < 0 {
			return nil, fmt.Errorf("%w: stage %s stripe %d has input %d output %d",
				types.ErrFragmentGeometry, s.ID, i, in, out)
		}
		fr := graph.Fragment{StartOffset: sp.inStart, InputWidth: in, OutputWidth: out, Vanished: sp.vanished}
		if sp.vanished {
			fr.InputWidth, fr.OutputWidth = 0, 0
		} else if withPlanes {
			fr.PlaneOffsets = planeOffsets(sp.outStart, f)
		}
		set[i] = fr
	}
	if got := set.OutputSum(); got != s.Output.Width {
		return nil, fmt.Errorf("%w: stripes of %s sum to %d, output is %d",
			types.ErrGraphConsistency, s.ID, got, s.Output.Width)
	}
	return set, nil
}
