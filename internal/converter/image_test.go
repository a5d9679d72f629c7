package converter

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestNewImageOptimizer_Disabled(t *testing.T) {
	if opt := NewImageOptimizer(0, 80); opt != nil {
		t.Fatalf("NewImageOptimizer(0) = %+v, want nil", opt)
	}
	opt := NewImageOptimizer(600, 0)
	if opt.JPEGQuality != defaultJPEGQuality {
		t.Errorf("JPEGQuality = %d, want %d", opt.JPEGQuality, defaultJPEGQuality)
	}
	if opt := NewImageOptimizer(600, 150); opt.JPEGQuality != 100 {
		t.Errorf("JPEGQuality = %d, want clamp to 100", opt.JPEGQuality)
	}
}

func TestImageOptimizer_ResizeOverMaxWidth(t *testing.T) {
	src := makeSolidNRGBA(1200, 800, color.NRGBA{R: 20, G: 50, B: 200, A: 255})
	data := mustEncodeJPEG(t, src, 90)
	opt := NewImageOptimizer(600, 85)

	out, err := opt.Optimize("img.jpg", "image/jpeg", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.Width != 600 || out.Height != 400 {
		t.Fatalf("got %dx%d, want 600x400", out.Width, out.Height)
	}
	if out.MediaType != "image/jpeg" {
		t.Fatalf("media type = %q, want image/jpeg", out.MediaType)
	}
}

func TestImageOptimizer_NoResizeUnderMaxWidth(t *testing.T) {
	src := makeSolidNRGBA(500, 300, color.NRGBA{R: 100, G: 120, B: 140, A: 255})
	data := mustEncodePNG(t, src)
	opt := NewImageOptimizer(600, 85)

	out, err := opt.Optimize("img.png", "image/png", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.Width != 500 || out.Height != 300 {
		t.Fatalf("got %dx%d, want 500x300", out.Width, out.Height)
	}
	if !bytes.Equal(out.Data, data) {
		t.Fatal("narrow image should be passed through byte for byte")
	}
	if out.MediaType != "image/png" {
		t.Fatalf("media type = %q, want image/png", out.MediaType)
	}
}

func TestImageOptimizer_PNGToJPEGWithoutAlpha(t *testing.T) {
	src := makeSolidNRGBA(700, 400, color.NRGBA{R: 10, G: 80, B: 180, A: 255})
	data := mustEncodePNG(t, src)
	opt := NewImageOptimizer(600, 85)

	out, err := opt.Optimize("img.png", "image/png", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.MediaType != "image/jpeg" {
		t.Fatalf("media type = %q, want image/jpeg", out.MediaType)
	}
}

func TestImageOptimizer_KeepTransparentPNG(t *testing.T) {
	src := makeSolidNRGBA(700, 400, color.NRGBA{R: 10, G: 80, B: 180, A: 120})
	data := mustEncodePNG(t, src)
	opt := NewImageOptimizer(600, 85)

	out, err := opt.Optimize("alpha.png", "image/png", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.MediaType != "image/png" {
		t.Fatalf("media type = %q, want image/png", out.MediaType)
	}
	if out.Width != 600 {
		t.Fatalf("width = %d, want 600", out.Width)
	}
}

func TestImageOptimizer_GIFToJPEGWhenNotAnimated(t *testing.T) {
	p := image.NewPaletted(image.Rect(0, 0, 640, 320), color.Palette{
		color.RGBA{0, 0, 0, 255},
		color.RGBA{255, 255, 255, 255},
	})
	data := mustEncodeGIF(t, p)
	opt := NewImageOptimizer(320, 85)

	out, err := opt.Optimize("a.gif", "image/gif", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.MediaType != "image/jpeg" {
		t.Fatalf("media type = %q, want image/jpeg", out.MediaType)
	}
}

func TestImageOptimizer_KeepAnimatedGIF(t *testing.T) {
	anim := &gif.GIF{
		Image: []*image.Paletted{
			image.NewPaletted(image.Rect(0, 0, 10, 10), color.Palette{color.Black, color.White}),
			image.NewPaletted(image.Rect(0, 0, 10, 10), color.Palette{color.Black, color.White}),
		},
		Delay: []int{5, 5},
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatalf("gif.EncodeAll() error = %v", err)
	}

	opt := NewImageOptimizer(5, 85)
	out, err := opt.Optimize("anim.gif", "image/gif", buf.Bytes())
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.MediaType != "image/gif" {
		t.Fatalf("media type = %q, want image/gif", out.MediaType)
	}
	if !bytes.Equal(out.Data, buf.Bytes()) {
		t.Fatal("animated gif should be passthrough")
	}
}

func TestImageOptimizer_LowerQualityProducesSmallerOutput(t *testing.T) {
	src := makePatternNRGBA(900, 700)
	data := mustEncodeJPEG(t, src, 95)

	high, err := NewImageOptimizer(800, 95).Optimize("p.jpg", "image/jpeg", data)
	if err != nil {
		t.Fatalf("high quality Optimize() error = %v", err)
	}
	low, err := NewImageOptimizer(800, 60).Optimize("p.jpg", "image/jpeg", data)
	if err != nil {
		t.Fatalf("low quality Optimize() error = %v", err)
	}

	if len(low.Data) >= len(high.Data) {
		t.Fatalf("low quality size = %d, high quality size = %d; want low < high", len(low.Data), len(high.Data))
	}
}

func TestImageOptimizer_DecodeFailurePassthrough(t *testing.T) {
	raw := []byte("not-an-image")
	opt := NewImageOptimizer(600, 85)

	out, err := opt.Optimize("bad.jpg", "image/jpeg", raw)
	if err != nil {
		t.Fatalf("decode failure should not return error, got %v", err)
	}
	if out.Warning == "" {
		t.Fatal("expected warning for decode failure")
	}
	if !bytes.Equal(out.Data, raw) {
		t.Fatal("decode failure should passthrough original bytes")
	}
}

func TestImageOptimizer_HugeImagePassthrough(t *testing.T) {
	// MaxPixels is lowered so the guard triggers without allocating a huge image.
	src := makeSolidNRGBA(200, 200, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	data := mustEncodeJPEG(t, src, 90)

	opt := NewImageOptimizer(100, 85)
	opt.MaxPixels = 100 * 100

	out, err := opt.Optimize("huge.jpg", "image/jpeg", data)
	if err != nil {
		t.Fatalf("huge image should not return error, got %v", err)
	}
	if out.Warning == "" {
		t.Fatal("expected warning for huge image")
	}
	if !bytes.Equal(out.Data, data) {
		t.Fatal("huge image should passthrough original bytes")
	}
	if out.Width != 200 || out.Height != 200 {
		t.Fatalf("got %dx%d, want 200x200", out.Width, out.Height)
	}
}

func makeSolidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func makePatternNRGBA(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r := uint8((x*17 + y*11) % 256)
			g := uint8((x*7 + y*23) % 256)
			b := uint8((x*3 + y*13) % 256)
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

func mustEncodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func mustEncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func mustEncodeGIF(t *testing.T, img *image.Paletted) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("gif.Encode() error = %v", err)
	}
	return buf.Bytes()
}
