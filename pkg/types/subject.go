package types

// Box is a rectangle normalized to [0,1] in both axes.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the centre of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Subject is the dominant subject reported by a vision model.
type Subject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// Detection is the structured answer of a vision model for one frame.
type Detection struct {
	Primary     Subject  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// FallbackDetection is returned when a model answer cannot be used. It frames
// the centre half of the image.
func FallbackDetection(label, description string, tags ...string) *Detection {
	return &Detection{
		Primary: Subject{
			Label:      label,
			Confidence: 0.1,
			Box:        Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
			Cx:         0.5,
			Cy:         0.5,
		},
		Description: description,
		Tags:        append(tags, "fallback"),
	}
}
