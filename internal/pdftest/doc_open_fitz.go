package pdftest

import (
	fitz "github.com/gen2brain/go-fitz"
)

// fitzOpener opens documents with go-fitz; *fitz.Document already satisfies Doc.
type fitzOpener struct{}

func (fitzOpener) Open(path string) (Doc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
