package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref, bucket, key string
		wantErr          bool
	}{
		{ref: "s3://docs/in/report.pdf", bucket: "docs", key: "in/report.pdf"},
		{ref: "s3:///in/report.pdf", key: "in/report.pdf"},
		{ref: "in/report.pdf", key: "in/report.pdf"},
		{ref: "/in/report.pdf", key: "in/report.pdf"},
		{ref: "s3://docs", wantErr: true},
		{ref: "s3://docs/", wantErr: true},
		{ref: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, err := ParseRef(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRef)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestOutlineKey(t *testing.T) {
	assert.Equal(t, "docs/report_outline.json", OutlineKey("docs/report.pdf"))
	assert.Equal(t, "report_outline.json", OutlineKey("report.PDF"))
	assert.Equal(t, "a/b/noext_outline.json", OutlineKey("a/b/noext"))
}

func TestWithBucket(t *testing.T) {
	c := &S3Client{bucket: "main"}
	assert.Same(t, c, c.WithBucket(""))
	assert.Same(t, c, c.WithBucket("main"))

	other := c.WithBucket("archive")
	assert.Equal(t, "archive", other.Bucket())
	assert.Equal(t, "main", c.Bucket())
}
