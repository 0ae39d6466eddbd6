package graph

import (
	"fmt"
	"strings"
)

// StageID is the stable numeric identity of a stage, taken from the catalog.
// Zero is reserved for "no stage".
type StageID uint32

// NoStage marks an absent stage reference.
const NoStage StageID = 0

func (id StageID) String() string {
	return fmt.Sprintf("0x%04x", uint32(id))
}

// SlotID indexes a resolution history slot owned by the history registry.
type SlotID int

// NoSlot marks a stage without history.
const NoSlot SlotID = -1

// Role tells the propagator how a stage participates in geometry decisions.
type Role int

const (
	// RoleInput is the sensor-facing stage; its output is the sensor frame.
	RoleInput Role = iota
	// RolePassThrough stages keep the geometry of their upstream.
	RolePassThrough
	// RoleDownScaler is the designated downscaler.
	RoleDownScaler
	// RoleReferenceProducer writes the temporal reference for the next frame.
	RoleReferenceProducer
	// RoleReferenceFeeder reads the reference written in the previous frame.
	RoleReferenceFeeder
	// RoleCropper is the designated fixed-ratio cropper.
	RoleCropper
	// RoleUpScaler is the designated upscaler.
	RoleUpScaler
	// RoleOutput is a hardware sink.
	RoleOutput
	// RoleStatistics stages collect statistics over the cropped region.
	RoleStatistics
)

var roleNames = map[Role]string{
	RoleInput:             "input",
	RolePassThrough:       "passthrough",
	RoleDownScaler:        "downscaler",
	RoleReferenceProducer: "reference_producer",
	RoleReferenceFeeder:   "reference_feeder",
	RoleCropper:           "cropper",
	RoleUpScaler:          "upscaler",
	RoleOutput:            "output",
	RoleStatistics:        "statistics",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole converts a catalog role name into a Role.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for role, name := range roleNames {
		if name == s {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown stage role %q", s)
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width" msgpack:"w"`
	Height int `json:"height" yaml:"height" msgpack:"h"`
}

// IsZero reports whether either dimension is zero.
func (r Resolution) IsZero() bool {
	return r.Width == 0 || r.Height == 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Crop is the number of input pixels removed on each side before a stage
// processes its input.
type Crop struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Horizontal returns Left+Right.
func (c Crop) Horizontal() int { return c.Left + c.Right }

// Vertical returns Top+Bottom.
func (c Crop) Vertical() int { return c.Top + c.Bottom }

// IsZero reports whether nothing is cropped.
func (c Crop) IsZero() bool {
	return c == Crop{}
}

func (c Crop) String() string {
	return fmt.Sprintf("l=%d t=%d r=%d b=%d", c.Left, c.Top, c.Right, c.Bottom)
}

// Window is a rectangle in sensor coordinates, kept in floating point so the
// undo path does not accumulate rounding from every stage.
type Window struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// StageDescriptor is one stage of the pipeline instance.
type StageDescriptor struct {
	ID       StageID
	Name     string
	Role     Role
	Upstream StageID

	// Baseline is the catalog default output resolution. For the downscaler
	// it is the fixed output target, for sinks the sink resolution.
	Baseline Resolution

	Input  Resolution
	Output Resolution
	Crop   Crop

	Format   string
	BitDepth []int

	// HistorySource names the stage whose geometry a reference feeder
	// mirrors. HistorySlot is assigned by the history registry.
	HistorySource StageID
	HistorySlot   SlotID

	Fragments FragmentSet

	// Window is the sensor area covered by the stage's full output frame.
	Window Window
}

// CroppedInput is the input region the stage actually consumes.
func (s *StageDescriptor) CroppedInput() Resolution {
	return Resolution{
		Width:  s.Input.Width - s.Crop.Horizontal(),
		Height: s.Input.Height - s.Crop.Vertical(),
	}
}

// ScaleX returns consumed input pixels per output pixel horizontally.
func (s *StageDescriptor) ScaleX() float64 {
	if s.Output.Width == 0 {
		return 1
	}
	return float64(s.CroppedInput().Width) / float64(s.Output.Width)
}

// ScaleY returns consumed input pixels per output pixel vertically.
func (s *StageDescriptor) ScaleY() float64 {
	if s.Output.Height == 0 {
		return 1
	}
	return float64(s.CroppedInput().Height) / float64(s.Output.Height)
}

func (s *StageDescriptor) clone() StageDescriptor {
	c := *s
	if s.BitDepth != nil {
		c.BitDepth = append([]int(nil), s.BitDepth...)
	}
	c.Fragments = s.Fragments.Clone()
	return c
}
