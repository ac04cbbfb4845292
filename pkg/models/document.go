package models

import "image"

// Document is the text (and optional page previews) extracted from an upload.
type Document struct {
	Name     string        `json:"name"`
	Format   string        `json:"format"`
	Text     string        `json:"text"`
	Previews []image.Image `json:"-"`
}
