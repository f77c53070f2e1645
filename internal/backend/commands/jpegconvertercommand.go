package commands

import (
	"fmt"
	"image/color"
	"log/slog"

	"github.com/jo-hoe/petitmarche/internal/backend/commandstructure"
	xdraw "golang.org/x/image/draw"
)

// JpegConverterCommand handles image format conversion to JPEG without scaling
type JpegConverterCommand struct {
	name            string
	quality         int
	svgFallbackSize int
	reencodeJpeg    bool
	background      color.Color
}

// NewJpegConverterCommand creates a new JPEG converter command
func NewJpegConverterCommand(params map[string]any) (commandstructure.Command, error) {
	quality := commandstructure.GetIntParam(params, "quality", DefaultJpegQuality)
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("quality must be within 1..100, got %d", quality)
	}
	background, err := commandstructure.GetColorParam(params, "background", color.White)
	if err != nil {
		return nil, err
	}
	return &JpegConverterCommand{
		name:            "JpegConverterCommand",
		quality:         quality,
		svgFallbackSize: commandstructure.GetIntParam(params, "svgFallbackSize", defaultSvgFallbackSize),
		reencodeJpeg:    commandstructure.GetBoolParam(params, "reencodeJpeg", false),
		background:      background,
	}, nil
}

// Name returns the command name
func (c *JpegConverterCommand) Name() string {
	return c.name
}

func (c *JpegConverterCommand) Execute(imageData []byte) ([]byte, error) {
	// JPEG input is returned untouched unless a re-encode is requested
	if !c.reencodeJpeg && hasJpegSignature(imageData) {
		slog.Debug("JpegConverterCommand: JPEG detected; returning original bytes")
		return imageData, nil
	}

	img, format, err := decodeImage(imageData, c.svgFallbackSize)
	if err != nil {
		return nil, err
	}
	slog.Debug("JpegConverterCommand: decoded image",
		"current_format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	bounds := img.Bounds()
	dst := createTargetCanvas(bounds.Dx(), bounds.Dy(), c.background)
	xdraw.Draw(dst, dst.Bounds(), img, bounds.Min, xdraw.Over)

	out, err := encodeJPEG(dst, c.quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image to JPEG: %w", err)
	}
	return out, nil
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("JpegConverterCommand", NewJpegConverterCommand); err != nil {
		panic(fmt.Sprintf("failed to register JpegConverterCommand: %v", err))
	}
}
