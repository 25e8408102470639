// Package render declares the vector-to-raster conversion boundary.
// Rasterization itself is an external collaborator; implementations
// are injected where the service is wired together.
package render

import "context"

// Default raster output dimensions for derived PNG artifacts.
const (
	DefaultWidth  = 512
	DefaultHeight = 512
)

// Renderer converts SVG bytes to PNG bytes at the given dimensions.
type Renderer interface {
	RenderPNG(ctx context.Context, svg []byte, width, height int) ([]byte, error)
}

// Func adapts a plain function to the Renderer interface.
type Func func(ctx context.Context, svg []byte, width, height int) ([]byte, error)

func (f Func) RenderPNG(ctx context.Context, svg []byte, width, height int) ([]byte, error) {
	return f(ctx, svg, width, height)
}
