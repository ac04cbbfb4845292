package extract

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/encoding/unicode"
)

const (
	textImageWidth = 600
	textLineHeight = 20
	textMargin     = 10
)

func extractText(data []byte, opts Options) (string, []image.Image, error) {
	// Invalid sequences become U+FFFD; valid UTF-8 passes through unchanged.
	decoded, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return "", nil, err
	}
	text := string(decoded)

	if !opts.TextPreview {
		return text, nil, nil
	}
	return text, []image.Image{RenderText(text, textImageWidth)}, nil
}

// RenderText draws text black on white in a fixed-width font, wrapping
// lines that do not fit width.
func RenderText(text string, width int) image.Image {
	face := basicfont.Face7x13
	perLine := (width - 2*textMargin) / face.Advance
	if perLine < 1 {
		perLine = 1
	}

	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\t", "    "), "\n") {
		lines = append(lines, wrap(line, perLine)...)
	}

	height := len(lines)*textLineHeight + 2*textMargin
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}
	y := textMargin + face.Ascent
	for _, line := range lines {
		d.Dot = fixed.P(textMargin, y)
		d.DrawString(line)
		y += textLineHeight
	}
	return img
}

func wrap(line string, n int) []string {
	r := []rune(line)
	if len(r) <= n {
		return []string{line}
	}
	var out []string
	for len(r) > n {
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return append(out, string(r))
}
