package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	docxDocument = "word/document.xml"
	docxRels     = "word/_rels/document.xml.rels"
	imageRelType = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

var (
	errPartTooLarge  = errors.New("package part exceeds size limit")
	errImageTooLarge = errors.New("image exceeds pixel limit")
)

// capReader fails with errPartTooLarge once more than n bytes are read.
type capReader struct {
	r io.Reader
	n int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.n < 0 {
		return 0, errPartTooLarge
	}
	if int64(len(p)) > c.n+1 {
		p = p[:c.n+1]
	}
	n, err := c.r.Read(p)
	c.n -= int64(n)
	if c.n < 0 {
		return n, errPartTooLarge
	}
	return n, err
}

func extractDocx(data []byte, opts Options) (string, []image.Image, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("open docx package: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	body, ok := files[docxDocument]
	if !ok {
		return "", nil, fmt.Errorf("missing %s", docxDocument)
	}
	rc, err := body.Open()
	if err != nil {
		return "", nil, err
	}
	text, err := docxText(&capReader{r: rc, n: opts.maxTextBytes()})
	rc.Close()
	if err != nil {
		return "", nil, err
	}

	if !opts.DocxImages {
		return text, nil, nil
	}
	images, err := docxImages(files, opts)
	if err != nil {
		return "", nil, err
	}
	return text, images, nil
}

// docxText collects the paragraphs of a WordprocessingML body. Tabs and
// breaks only count inside a run; w:tab also appears in paragraph
// properties as a tab stop.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		para       strings.Builder
		inPara     int
		inRun      int
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if errors.Is(err, errPartTooLarge) {
			return "", fmt.Errorf("%s: %w", docxDocument, err)
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxDocument, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if inPara == 0 {
					para.Reset()
				}
				inPara++
			case "r":
				inRun++
			case "t":
				inText = inRun > 0
			case "tab":
				if inRun > 0 {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inRun > 0 {
					para.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				inPara--
				if inPara == 0 {
					paragraphs = append(paragraphs, para.String())
				}
			case "r":
				inRun--
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

type relationships struct {
	Relationships []struct {
		ID         string `xml:"Id,attr"`
		Type       string `xml:"Type,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// docxImages decodes embedded images in relationship order. Formats the
// image package cannot decode (EMF, WMF) are skipped, as are images over
// the pixel or size limit.
func docxImages(files map[string]*zip.File, opts Options) ([]image.Image, error) {
	relsFile, ok := files[docxRels]
	if !ok {
		return nil, nil
	}
	rc, err := relsFile.Open()
	if err != nil {
		return nil, err
	}
	var rels relationships
	err = xml.NewDecoder(&capReader{r: rc, n: opts.maxTextBytes()}).Decode(&rels)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", docxRels, err)
	}

	var images []image.Image
	for _, rel := range rels.Relationships {
		if rel.Type != imageRelType || strings.EqualFold(rel.TargetMode, "External") {
			continue
		}
		name := path.Join("word", rel.Target)
		if strings.HasPrefix(rel.Target, "/") {
			name = strings.TrimPrefix(rel.Target, "/")
		}
		f, ok := files[name]
		if !ok {
			continue
		}
		img, err := decodeZipImage(f, opts)
		if err != nil {
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

// decodeZipImage checks the declared dimensions before decoding so a small
// compressed entry cannot expand into an arbitrarily large bitmap.
func decodeZipImage(f *zip.File, opts Options) (image.Image, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(&capReader{r: rc, n: opts.maxTextBytes()})
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > opts.maxImagePixels()/cfg.Height {
		return nil, fmt.Errorf("%s: %dx%d: %w", f.Name, cfg.Width, cfg.Height, errImageTooLarge)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
