package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"math"

	"github.com/jo-hoe/petitmarche/internal/backend/commandstructure"
	xdraw "golang.org/x/image/draw"
)

const (
	// DefaultJpegQuality is the quality every intake image is re-encoded with
	DefaultJpegQuality = 70
	mimeJPEG           = "image/jpeg"
)

// ResizeParams represents typed parameters for the resize command
type ResizeParams struct {
	MaxWidth        int
	MaxHeight       int
	Quality         int
	SvgFallbackSize int
	// Background fills areas a transparent source leaves uncovered, since JPEG has no alpha
	Background color.Color
}

// NewResizeParamsFromMap creates ResizeParams from a generic map
func NewResizeParamsFromMap(params map[string]any) (*ResizeParams, error) {
	if err := commandstructure.ValidateRequiredParams(params, []string{"maxWidth", "maxHeight"}); err != nil {
		return nil, err
	}

	typed := &ResizeParams{
		MaxWidth:        commandstructure.GetIntParam(params, "maxWidth", 0),
		MaxHeight:       commandstructure.GetIntParam(params, "maxHeight", 0),
		Quality:         commandstructure.GetIntParam(params, "quality", DefaultJpegQuality),
		SvgFallbackSize: commandstructure.GetIntParam(params, "svgFallbackSize", defaultSvgFallbackSize),
	}
	background, err := commandstructure.GetColorParam(params, "background", color.White)
	if err != nil {
		return nil, err
	}
	typed.Background = background
	if err := typed.validate(); err != nil {
		return nil, err
	}
	return typed, nil
}

func (p *ResizeParams) validate() error {
	if p.MaxWidth <= 0 {
		return fmt.Errorf("maxWidth must be positive, got %d", p.MaxWidth)
	}
	if p.MaxHeight <= 0 {
		return fmt.Errorf("maxHeight must be positive, got %d", p.MaxHeight)
	}
	if p.Quality < 1 || p.Quality > 100 {
		return fmt.Errorf("quality must be within 1..100, got %d", p.Quality)
	}
	return nil
}

// ResizeCommand downscales an image so it fits within the configured bounds and
// re-encodes it as JPEG. Images already within bounds are never upscaled.
type ResizeCommand struct {
	name   string
	params *ResizeParams
}

// NewResizeCommand creates a new resize command from configuration parameters
func NewResizeCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewResizeParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &ResizeCommand{name: "ResizeCommand", params: typedParams}, nil
}

// NewResizeCommandWithParams creates a new resize command from concrete typed parameters
func NewResizeCommandWithParams(maxWidth, maxHeight, quality int) (*ResizeCommand, error) {
	params := &ResizeParams{
		MaxWidth:        maxWidth,
		MaxHeight:       maxHeight,
		Quality:         quality,
		SvgFallbackSize: defaultSvgFallbackSize,
		Background:      color.White,
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &ResizeCommand{name: "ResizeCommand", params: params}, nil
}

// Name returns the command name
func (c *ResizeCommand) Name() string {
	return c.name
}

// GetParams returns the typed parameters
func (c *ResizeCommand) GetParams() *ResizeParams {
	return c.params
}

// Execute decodes, bounds and re-encodes the image
func (c *ResizeCommand) Execute(imageData []byte) ([]byte, error) {
	img, format, err := decodeImage(imageData, c.params.SvgFallbackSize)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := ComputeBoundedDimensions(bounds.Dx(), bounds.Dy(), c.params.MaxWidth, c.params.MaxHeight)
	slog.Debug("ResizeCommand: computed bounded dimensions",
		"format", format,
		"original_width", bounds.Dx(),
		"original_height", bounds.Dy(),
		"scaled_width", width,
		"scaled_height", height)

	dst := createTargetCanvas(width, height, c.params.Background)
	if width == bounds.Dx() && height == bounds.Dy() {
		xdraw.Draw(dst, dst.Bounds(), img, bounds.Min, xdraw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	}

	out, err := encodeJPEG(dst, c.params.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return out, nil
}

// ComputeBoundedDimensions returns the size an image of width x height is scaled to so that
// neither side exceeds its bound. The larger side is clamped to its own bound first and the
// other side follows proportionally; an image already within bounds keeps its size.
func ComputeBoundedDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	w := float64(width)
	h := float64(height)

	if w > h {
		if w > float64(maxWidth) {
			h *= float64(maxWidth) / w
			w = float64(maxWidth)
		}
	} else if h > float64(maxHeight) {
		w *= float64(maxHeight) / h
		h = float64(maxHeight)
	}

	// with unequal bounds the follower side may still be out of range
	if w > float64(maxWidth) {
		h *= float64(maxWidth) / w
		w = float64(maxWidth)
	}
	if h > float64(maxHeight) {
		w *= float64(maxHeight) / h
		h = float64(maxHeight)
	}

	return atLeastOne(w), atLeastOne(h)
}

func atLeastOne(v float64) int {
	r := int(math.Round(v))
	if r < 1 {
		return 1
	}
	return r
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	bb := img.Bounds()
	// rough heuristic: compressed JPEG rarely exceeds half a byte per pixel
	buf.Grow(bb.Dx() * bb.Dy() / 2)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentType is the MIME type of everything ResizeCommand produces
func (c *ResizeCommand) ContentType() string {
	return mimeJPEG
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("ResizeCommand", NewResizeCommand); err != nil {
		panic(fmt.Sprintf("failed to register ResizeCommand: %v", err))
	}
}
