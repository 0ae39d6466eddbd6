package graph

// Fragment is one horizontal stripe of a stage.
type Fragment struct {
	// StartOffset is the input column at which the stripe begins.
	StartOffset int
	InputWidth  int
	OutputWidth int

	// Vanished stripes lie entirely outside the crop. They keep their slot so
	// indices line up with the upstream stage, but are never submitted.
	Vanished bool

	// PlaneOffsets holds the byte offset of the stripe in each plane of a
	// multi-plane output buffer.
	PlaneOffsets []int
}

// FragmentSet is the ordered stripe list of a stage.
type FragmentSet []Fragment

// Descriptors returns the stripes that are submitted to hardware, with
// vanished stripes physically removed.
func (s FragmentSet) Descriptors() []Fragment {
	out := make([]Fragment, 0, len(s))
	for _, f := range s {
		if !f.Vanished {
			out = append(out, f)
		}
	}
	return out
}

// Count returns the number of non-vanished stripes.
func (s FragmentSet) Count() int {
	n := 0
	for _, f := range s {
		if !f.Vanished {
			n++
		}
	}
	return n
}

// OutputSum is the sum of non-vanished output widths.
func (s FragmentSet) OutputSum() int {
	sum := 0
	for _, f := range s {
		if !f.Vanished {
			sum += f.OutputWidth
		}
	}
	return sum
}

// InputSum is the sum of non-vanished input widths.
func (s FragmentSet) InputSum() int {
	sum := 0
	for _, f := range s {
		if !f.Vanished {
			sum += f.InputWidth
		}
	}
	return sum
}

// Clone deep-copies the set.
func (s FragmentSet) Clone() FragmentSet {
	if s == nil {
		return nil
	}
	out := make(FragmentSet, len(s))
	for i, f := range s {
		out[i] = f
		if f.PlaneOffsets != nil {
			out[i].PlaneOffsets = append([]int(nil), f.PlaneOffsets...)
		}
	}
	return out
}
