package dispatcher

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Job sources.
const (
	SourceAPI    = "api"
	SourceUpload = "upload"
	SourceBatch  = "batch"
)

// Job is the queue payload for one PDF.
type Job struct {
	JobID          string   `json:"job_id"`
	FilePath       string   `json:"file_path"`
	User           string   `json:"user"`
	Password       string   `json:"password,omitempty"`
	Threshold      *float64 `json:"threshold,omitempty"`
	Attempt        int      `json:"attempt"`
	IdempotencyKey string   `json:"idempotency_key"`
	Source         string   `json:"source"`
}

// NewJob assigns an id and the idempotency key "doc:<id>".
func NewJob(filePath, user, source string) Job {
	id := uuid.NewString()
	if source == "" {
		source = SourceAPI
	}
	return Job{
		JobID:          id,
		FilePath:       filePath,
		User:           user,
		Attempt:        1,
		IdempotencyKey: "doc:" + id,
		Source:         source,
	}
}

func (j Job) Validate() error {
	switch {
	case strings.TrimSpace(j.JobID) == "":
		return invalid("job_id", "missing")
	case strings.TrimSpace(j.FilePath) == "":
		return invalid("file_path", "missing")
	case j.Threshold != nil && (*j.Threshold < 0 || *j.Threshold > 1):
		return invalid("threshold", "%v outside [0,1]", *j.Threshold)
	}
	return nil
}

func (j Job) Encode() ([]byte, error) { return json.Marshal(j) }

func DecodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, invalid("", "decode: %v", err)
	}
	if j.Attempt <= 0 {
		j.Attempt = 1
	}
	return j, nil
}
