package extract

import (
	"fmt"
	"image"
	"strings"

	"github.com/gen2brain/go-fitz"
)

func extractPDF(data []byte, opts Options) (string, []image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	dpi := opts.PreviewDPI
	if dpi <= 0 {
		dpi = DefaultPreviewDPI
	}

	var (
		text     strings.Builder
		previews []image.Image
	)
	for n := 0; n < doc.NumPage(); n++ {
		page, err := doc.Text(n)
		if err != nil {
			return "", nil, fmt.Errorf("page %d text: %w", n+1, err)
		}
		text.WriteString(page)

		if opts.MaxPreviewPages < 0 || (opts.MaxPreviewPages > 0 && n >= opts.MaxPreviewPages) {
			continue
		}
		img, err := doc.ImageDPI(n, dpi)
		if err != nil {
			return "", nil, fmt.Errorf("page %d render: %w", n+1, err)
		}
		previews = append(previews, img)
	}
	return text.String(), previews, nil
}
