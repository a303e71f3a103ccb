// Package render decodes uploaded images and draws face annotations on them.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/example/face-compare/internal/facematch"
)

// ErrUnsupportedFormat is returned for images that are not png, jpeg or gif.
var ErrUnsupportedFormat = errors.New("render: unsupported image format")

var (
	// Green outlines matched faces on the web results page.
	Green = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	// Blue outlines labelled faces in the two-photo pipeline.
	Blue = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	// White is the label text colour.
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const outlineWidth = 2

// Box is a face outline with an optional label strip.
type Box struct {
	Location facematch.Location
	Label    string
	Color    color.RGBA
}

// Decode reads a png, jpeg or gif image and reports its format.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Annotate copies img and draws every box on the copy.
func Annotate(img image.Image, boxes []Box) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	for _, b := range boxes {
		rect := image.Rect(b.Location.Left, b.Location.Top, b.Location.Right, b.Location.Bottom).
			Add(bounds.Min).
			Intersect(bounds)
		if rect.Empty() {
			continue
		}
		outline(out, rect, b.Color)
		if b.Label != "" {
			label(out, rect, b.Label, b.Color)
		}
	}
	return out
}

func outline(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	src := image.NewUniform(c)
	w := outlineWidth
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y),
		image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// label fills a strip at the bottom of the box and writes text into it.
func label(dst *image.RGBA, r image.Rectangle, text string, c color.RGBA) {
	face := basicfont.Face7x13
	textHeight := face.Metrics().Height.Ceil()

	strip := image.Rect(r.Min.X, r.Max.Y-textHeight-10, r.Max.X, r.Max.Y).Intersect(dst.Bounds())
	draw.Draw(dst, strip, image.NewUniform(c), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(White),
		Face: face,
		Dot:  fixed.P(r.Min.X+6, r.Max.Y-5-face.Metrics().Descent.Ceil()),
	}
	d.DrawString(text)
}

// Encode writes img as png, or as jpeg when format is "jpeg" or "jpg".
func Encode(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(w, img)
	}
}

// ContentType returns the MIME type Encode produces for format.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
