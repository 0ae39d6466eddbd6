package propagator

import (
	"fmt"
	"sort"
	"strings"
)

// Variant carries the hardware limits of one pipeline variant. The catalog
// names the variant of each pipeline; the propagator code is shared.
type Variant struct {
	Name string

	// MaxDownscale is the largest shrink ratio the downscaler performs.
	MaxDownscale float64
	// MaxCropAbsorb bounds the extra reduction, beyond MaxDownscale, that may
	// be taken by cropping the downscaler input.
	MaxCropAbsorb float64

	MaxUpscale             float64
	MaxUpscalerOutputWidth int
	UpscalerStepWidth      int
	UpscalerStepHeight     int

	// ScalePrecision is the fixed-point denominator of the upscaler phase
	// register.
	ScalePrecision int

	SensorAlignment int
}

var variants = map[string]Variant{
	"default": {
		Name:                   "default",
		MaxDownscale:           4,
		MaxCropAbsorb:          4,
		MaxUpscale:             4,
		MaxUpscalerOutputWidth: 4096,
		UpscalerStepWidth:      4,
		UpscalerStepHeight:     2,
		ScalePrecision:         4096,
		SensorAlignment:        2,
	},
	// compact is the reduced scaler block found on low-power parts.
	"compact": {
		Name:                   "compact",
		MaxDownscale:           2.5,
		MaxCropAbsorb:          2,
		MaxUpscale:             2,
		MaxUpscalerOutputWidth: 2560,
		UpscalerStepWidth:      8,
		UpscalerStepHeight:     4,
		ScalePrecision:         1024,
		SensorAlignment:        2,
	},
}

// VariantFor returns the limits for a catalog variant name. An empty name
// selects "default".
func VariantFor(name string) (Variant, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	v, ok := variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("unknown pipeline variant %q (known: %s)",
			name, strings.Join(Variants(), ", "))
	}
	return v, nil
}

// Variants lists the known variant names.
func Variants() []string {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate rejects limits the propagator cannot work with.
func (v Variant) Validate() error {
	if v.MaxDownscale < 1 {
		return fmt.Errorf("variant %s: max downscale must be >= 1", v.Name)
	}
	if v.MaxCropAbsorb < 1 {
		return fmt.Errorf("variant %s: max crop absorb must be >= 1", v.Name)
	}
	if v.MaxUpscale < 1 {
		return fmt.Errorf("variant %s: max upscale must be >= 1", v.Name)
	}
	if v.MaxUpscalerOutputWidth <= 0 {
		return fmt.Errorf("variant %s: max upscaler output width must be positive", v.Name)
	}
	if v.UpscalerStepWidth <= 0 || v.UpscalerStepHeight <= 0 {
		return fmt.Errorf("variant %s: upscaler steps must be positive", v.Name)
	}
	if v.ScalePrecision <= 0 {
		return fmt.Errorf("variant %s: scale precision must be positive", v.Name)
	}
	return nil
}
