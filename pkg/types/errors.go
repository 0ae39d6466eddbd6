package types

import "errors"

// Error taxonomy shared by every stage of a configuration pass. Callers
// classify with errors.Is; the concrete error carries the details.
var (
	// ErrInvalidRoi is returned for malformed or unsatisfiable input rectangles.
	ErrInvalidRoi = errors.New("invalid roi")

	// ErrUnsupportedRoi is returned when a valid ROI exceeds hardware scale or
	// crop limits after alignment.
	ErrUnsupportedRoi = errors.New("unsupported roi")

	// ErrFragmentGeometry is returned when a stripe computation produced a
	// negative or unrepresentable width.
	ErrFragmentGeometry = errors.New("fragment geometry error")

	// ErrUnsupportedFragmentCount is returned for fragment counts the format or
	// the minimum stripe width cannot honour.
	ErrUnsupportedFragmentCount = errors.New("unsupported fragment count")

	// ErrGraphConsistency signals a broken internal invariant: an inconsistent
	// catalog or a propagator bug. Fatal to the session.
	ErrGraphConsistency = errors.New("graph consistency error")
)

// IsFatal reports whether err must end the capture session instead of being
// retried with another ROI.
func IsFatal(err error) bool {
	return errors.Is(err, ErrGraphConsistency)
}
