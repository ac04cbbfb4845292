package extract

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	for in, want := range map[string]string{
		"txt":        "txt",
		".TXT":       "txt",
		"cours.Docx": "docx",
		".pdf":       "pdf",
		"":           "",
	} {
		assert.Equal(t, want, Format(in), in)
	}
}

func TestExtractText(t *testing.T) {
	doc, err := Extract([]byte("Hello\nWorld"), ".txt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello\nWorld", doc.Text)
	assert.Equal(t, "txt", doc.Format)
	assert.Empty(t, doc.Previews)
}

func TestExtractTextInvalidUTF8(t *testing.T) {
	doc, err := Extract([]byte("caf\xe9 ok"), "TXT", Options{})
	require.NoError(t, err)
	assert.Equal(t, "caf� ok", doc.Text)
}

func TestExtractTextPreview(t *testing.T) {
	doc, err := Extract([]byte("Hello\nWorld"), "txt", Options{TextPreview: true})
	require.NoError(t, err)
	require.Len(t, doc.Previews, 1)
	b := doc.Previews[0].Bounds()
	assert.Equal(t, textImageWidth, b.Dx())
	assert.Equal(t, 2*textLineHeight+2*textMargin, b.Dy())
}

func TestRenderTextWraps(t *testing.T) {
	img := RenderText(string(bytes.Repeat([]byte("a"), 200)), 600)
	// 82 glyphs fit per line at 7px advance, so 200 runes take three lines.
	assert.Equal(t, 3*textLineHeight+2*textMargin, img.Bounds().Dy())
}

func TestExtractUnsupported(t *testing.T) {
	_, err := Extract([]byte("x"), "odt", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.NotErrorIs(t, err, ErrExtractionFailed)
}

type docxPart struct {
	name string
	data []byte
}

func buildDocx(t *testing.T, parts ...docxPart) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		w, err := zw.Create(p.name)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr>
<w:r><w:t>Exercice</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve">1 </w:t></w:r></w:p>
<w:p><w:r><w:t>Resoudre</w:t><w:br/><w:t>x+1=2</w:t></w:r></w:p>
<w:p/>
<w:p><w:r><w:t>Fin</w:t></w:r></w:p>
</w:body>
</w:document>`

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	rels := `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
<Relationship Id="rId5" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/second.png"/>
<Relationship Id="rId4" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/first.png"/>
<Relationship Id="rId6" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/chart.emf"/>
</Relationships>`

	data := buildDocx(t,
		docxPart{docxDocument, []byte(documentXML)},
		docxPart{docxRels, []byte(rels)},
		docxPart{"word/media/first.png", pngBytes(t, 10, 10)},
		docxPart{"word/media/second.png", pngBytes(t, 20, 5)},
		docxPart{"word/media/chart.emf", []byte("not an image")},
	)

	doc, err := Extract(data, "docx", Options{DocxImages: true})
	require.NoError(t, err)
	assert.Equal(t, "Exercice\t1 \nResoudre\nx+1=2\n\nFin", doc.Text)

	// Relationship order, EMF skipped.
	require.Len(t, doc.Previews, 2)
	assert.Equal(t, 20, doc.Previews[0].Bounds().Dx())
	assert.Equal(t, 10, doc.Previews[1].Bounds().Dx())

	doc, err = Extract(data, "docx", Options{})
	require.NoError(t, err)
	assert.Empty(t, doc.Previews)
}

func TestExtractDocxCorrupt(t *testing.T) {
	_, err := Extract([]byte("PK\x03\x04 definitely not a zip"), "docx", Options{})
	assert.ErrorIs(t, err, ErrExtractionFailed)

	noBody := buildDocx(t, docxPart{"word/styles.xml", []byte("<x/>")})
	_, err = Extract(noBody, "docx", Options{})
	assert.ErrorIs(t, err, ErrExtractionFailed)

	badXML := buildDocx(t, docxPart{docxDocument, []byte("<w:document><w:body>")})
	_, err = Extract(badXML, "docx", Options{})
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtractDocxBodyLimit(t *testing.T) {
	data := buildDocx(t, docxPart{docxDocument, []byte(documentXML)})
	_, err := Extract(data, "docx", Options{MaxTextBytes: 128})
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.ErrorIs(t, err, errPartTooLarge)

	doc, err := Extract(data, "docx", Options{MaxTextBytes: int64(len(documentXML))})
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "Fin")

	// A few KB compressed, 4 MB inflated.
	padded := bytes.Replace([]byte(documentXML), []byte("<w:p/>"),
		bytes.Repeat([]byte("<w:p/>"), 700_000), 1)
	bomb := buildDocx(t, docxPart{docxDocument, padded})
	require.Less(t, len(bomb), 1<<16)
	_, err = Extract(bomb, "docx", Options{MaxTextBytes: 1 << 20})
	assert.ErrorIs(t, err, errPartTooLarge)
}

// forgeDimensions rewrites the IHDR of a PNG to declare w x h pixels.
func forgeDimensions(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := bytes.Clone(data)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestExtractDocxImageLimit(t *testing.T) {
	rels := `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/huge.png"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/big.png"/>
<Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/small.png"/>
</Relationships>`
	data := buildDocx(t,
		docxPart{docxDocument, []byte(documentXML)},
		docxPart{docxRels, []byte(rels)},
		docxPart{"word/media/huge.png", forgeDimensions(t, pngBytes(t, 4, 4), 100_000, 100_000)},
		docxPart{"word/media/big.png", pngBytes(t, 20, 20)},
		docxPart{"word/media/small.png", pngBytes(t, 10, 10)},
	)

	doc, err := Extract(data, "docx", Options{DocxImages: true})
	require.NoError(t, err)
	require.Len(t, doc.Previews, 2)
	assert.Equal(t, 20, doc.Previews[0].Bounds().Dx())

	doc, err = Extract(data, "docx", Options{DocxImages: true, MaxImagePixels: 150})
	require.NoError(t, err)
	require.Len(t, doc.Previews, 1)
	assert.Equal(t, 10, doc.Previews[0].Bounds().Dx())
}

// minimalPDF builds a one-page PDF with a correct xref table.
func minimalPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 10 50 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractPDF(t *testing.T) {
	doc, err := Extract(minimalPDF("Hello PDF"), ".PDF", Options{})
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "Hello PDF")
	require.Len(t, doc.Previews, 1)
	assert.Equal(t, 200, doc.Previews[0].Bounds().Dx())

	doc, err = Extract(minimalPDF("Hello PDF"), "pdf", Options{PreviewDPI: 144})
	require.NoError(t, err)
	assert.Equal(t, 400, doc.Previews[0].Bounds().Dx())

	doc, err = Extract(minimalPDF("Hello PDF"), "pdf", Options{MaxPreviewPages: -1})
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "Hello PDF")
	assert.Empty(t, doc.Previews)
}

func TestExtractPDFCorrupt(t *testing.T) {
	_, err := Extract([]byte("not a pdf at all"), "pdf", Options{})
	assert.ErrorIs(t, err, ErrExtractionFailed)
}
