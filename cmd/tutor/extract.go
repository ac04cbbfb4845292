package main

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tutor/pkg/extract"
)

func newExtractCmd(load configLoader) *cobra.Command {
	var previewDir string

	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the text of a document, optionally writing its previews as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			opts := extract.Options{
				TextPreview:     previewDir != "",
				DocxImages:      previewDir != "" && cfg.Documents.DocxImages,
				PreviewDPI:      cfg.Documents.PreviewDPI,
				MaxPreviewPages: cfg.Documents.MaxPreviewPages,
				MaxTextBytes:    cfg.Documents.MaxTextBytes,
				MaxImagePixels:  cfg.Documents.MaxImagePixels,
			}
			if previewDir == "" {
				// Skip page rendering entirely.
				opts.MaxPreviewPages = -1
			}
			doc, err := extract.Extract(data, filepath.Ext(args[0]), opts)
			if err != nil {
				return err
			}
			fmt.Println(doc.Text)

			if previewDir == "" {
				return nil
			}
			if err := os.MkdirAll(previewDir, 0755); err != nil {
				return err
			}
			base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			for i, img := range doc.Previews {
				path := filepath.Join(previewDir, fmt.Sprintf("%s-%03d.png", base, i+1))
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				err = png.Encode(f, img)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
			}
			fmt.Fprintf(os.Stderr, "%d previews written to %s\n", len(doc.Previews), previewDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&previewDir, "previews", "", "directory to write preview PNGs into")
	return cmd
}
