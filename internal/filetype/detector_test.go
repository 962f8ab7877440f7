package filetype

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalPDF = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"

func TestDetectBytes(t *testing.T) {
	d := New()
	tests := []struct {
		name      string
		data      []byte
		file      string
		pdf       bool
		describes string
	}{
		{"pdf", []byte(minimalPDF), "report.bin", true, "PDF document"},
		{"text", []byte("just some words\n"), "notes.pdf", false, "Plain text file"},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "scan.png", false, "Image file, no text layer"},
		{"docx", []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00"), "letter.docx", false, "Microsoft Word document, convert to PDF first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := d.DetectBytes(tt.data, tt.file)
			assert.Equal(t, tt.pdf, info.IsPDF())
			assert.Equal(t, tt.pdf, info.Supported)
			assert.Equal(t, tt.describes, info.Description)
		})
	}
}

func TestRequirePDF(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "a.pdf")
	txt := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte(minimalPDF), 0o644))
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))

	info, err := New().RequirePDF(pdf)
	require.NoError(t, err)
	assert.Equal(t, ".pdf", info.Extension)

	_, err = New().RequirePDF(txt)
	assert.ErrorIs(t, err, ErrNotPDF)

	_, err = New().RequirePDF(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotPDF)
}

func TestIsPDFNil(t *testing.T) {
	var info *FileTypeInfo
	assert.False(t, info.IsPDF())
}
