package filetype

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const mimePDF = "application/pdf"

// ErrNotPDF is returned by RequirePDF for anything but a PDF.
var ErrNotPDF = errors.New("input is not a PDF")

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Supported   bool
	Description string
}

// IsPDF reports whether the content was detected as PDF.
func (i *FileTypeInfo) IsPDF() bool { return i != nil && i.MIMEType == mimePDF }

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type using magic bytes, not filename. The
// filename extension only disambiguates ZIP and OLE containers.
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	info := d.describe(mtype, filepath.Ext(filePath))
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", filePath).Msg("detected file type")
	return info, nil
}

// DetectBytes is Detect for in-memory content such as an upload.
func (d *Detector) DetectBytes(data []byte, name string) *FileTypeInfo {
	return d.describe(mimetype.Detect(data), filepath.Ext(name))
}

// RequirePDF detects filePath and fails with ErrNotPDF unless it is a PDF.
func (d *Detector) RequirePDF(filePath string) (*FileTypeInfo, error) {
	info, err := d.Detect(filePath)
	if err != nil {
		return nil, err
	}
	if !info.IsPDF() {
		return info, fmt.Errorf("%w: %s", ErrNotPDF, info.Description)
	}
	return info, nil
}

// containerKinds names documents that arrive as ZIP or OLE containers, keyed
// by extension. They are reported so the caller can say what was sent.
var containerKinds = map[string]string{
	".docx": "Microsoft Word document",
	".xlsx": "Microsoft Excel spreadsheet",
	".pptx": "Microsoft PowerPoint presentation",
	".odt":  "OpenDocument text",
	".ods":  "OpenDocument spreadsheet",
	".odp":  "OpenDocument presentation",
	".doc":  "Microsoft Word document (legacy)",
	".xls":  "Microsoft Excel spreadsheet (legacy)",
	".ppt":  "Microsoft PowerPoint presentation (legacy)",
}

func (d *Detector) describe(mtype *mimetype.MIME, ext string) *FileTypeInfo {
	info := &FileTypeInfo{MIMEType: mtype.String(), Extension: mtype.Extension()}
	ext = strings.ToLower(ext)

	switch {
	case mtype.Is(mimePDF):
		info.MIMEType = mimePDF
		info.Supported = true
		info.Description = "PDF document"
	case mtype.Is("application/zip") || mtype.Is("application/x-ole-storage"):
		if kind, ok := containerKinds[ext]; ok {
			info.Extension = ext
			info.Description = kind + ", convert to PDF first"
		} else {
			info.Description = "Archive container: " + info.MIMEType
		}
	case strings.HasPrefix(info.MIMEType, "image/"):
		info.Description = "Image file, no text layer"
	case strings.HasPrefix(info.MIMEType, "text/"):
		info.Description = "Plain text file"
	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
	return info
}
