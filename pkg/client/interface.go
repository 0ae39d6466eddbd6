package client

import (
	"context"

	"github.com/menta2k/isp-configurator/pkg/types"
)

// VisionClient locates the dominant subject of a frame with a vision model.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectSubject(ctx context.Context, model, prompt, imgB64 string) (*types.Detection, error)
}
