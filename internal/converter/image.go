package converter

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	defaultJPEGQuality = 85
	defaultMaxPixels   = 100 * 1000 * 1000 // 100 megapixels
)

// ImageOptimizer shrinks raster images that are wider than MaxWidth.
type ImageOptimizer struct {
	MaxWidth    int
	JPEGQuality int
	MaxPixels   int // Total pixel count limit for decode (width * height)
}

// OptimizedImage holds the bytes to embed and their media type.
// Warning is set when the input was passed through unchanged because it
// could not be processed.
type OptimizedImage struct {
	Data      []byte
	Width     int
	Height    int
	MediaType string
	Warning   string
}

// NewImageOptimizer returns nil when maxWidth disables downscaling.
func NewImageOptimizer(maxWidth, jpegQuality int) *ImageOptimizer {
	if maxWidth <= 0 {
		return nil
	}
	if jpegQuality <= 0 {
		jpegQuality = defaultJPEGQuality
	}
	if jpegQuality > 100 {
		jpegQuality = 100
	}
	return &ImageOptimizer{
		MaxWidth:    maxWidth,
		JPEGQuality: jpegQuality,
		MaxPixels:   defaultMaxPixels,
	}
}

// Optimize downscales input when it is wider than MaxWidth. Narrow images,
// animated GIFs and undecodable data are returned unchanged. Only encoding
// errors return a non-nil error.
func (o *ImageOptimizer) Optimize(path, mediaType string, input []byte) (OptimizedImage, error) {
	out := OptimizedImage{Data: input}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		out.Warning = fmt.Sprintf("image decode failed: %v", err)
		return out, nil
	}
	out.Width, out.Height = cfg.Width, cfg.Height
	out.MediaType = formatMediaType(format)
	if cfg.Width <= o.MaxWidth {
		return out, nil
	}
	pixels := uint64(cfg.Width) * uint64(cfg.Height)
	if o.MaxPixels > 0 && pixels > uint64(o.MaxPixels) {
		out.Warning = fmt.Sprintf("image too large to decode: %dx%d (%d pixels)", cfg.Width, cfg.Height, pixels)
		return out, nil
	}
	if format == "gif" {
		if animated, err := isAnimatedGIF(input); err == nil && animated {
			return out, nil
		}
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		out.Warning = fmt.Sprintf("image decode failed: %v", err)
		return out, nil
	}
	resized := imaging.Resize(src, o.MaxWidth, 0, imaging.Lanczos)

	var data []byte
	if hasAlpha(resized) {
		data, err = encodePNG(resized)
		out.MediaType = "image/png"
	} else {
		data, err = encodeJPEG(resized, o.JPEGQuality)
		out.MediaType = "image/jpeg"
	}
	if err != nil {
		return out, fmt.Errorf("failed to encode %s: %w", path, err)
	}

	out.Data = data
	out.Width = resized.Bounds().Dx()
	out.Height = resized.Bounds().Dy()
	return out, nil
}

func formatMediaType(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	}
	return ""
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAnimatedGIF(data []byte) (bool, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	return len(g.Image) > 1, nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xFFFF {
				return true
			}
		}
	}
	return false
}
