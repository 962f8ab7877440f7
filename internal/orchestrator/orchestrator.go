// Package orchestrator is the HTTP front of the outline service: it accepts
// jobs, reports progress and serves finished outlines.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfoutline/internal/dispatcher"
	"github.com/local/pdfoutline/internal/metrics"
	"github.com/local/pdfoutline/internal/statuscheck"
	"github.com/local/pdfoutline/internal/store"
)

const defaultMaxUpload = 64 << 20

type Queue interface {
	Enqueue(ctx context.Context, payload []byte) (string, error)
	CancelJob(ctx context.Context, jobID string) error
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

type ResultReader interface {
	Get(ctx context.Context, jobID string) ([]byte, error)
}

type HealthChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies for the HTTP handlers. Checker is optional.
type Dependencies struct {
	Queue     Queue
	Status    StatusStore
	Results   ResultReader
	Checker   HealthChecker
	Bucket    string
	UploadDir string
	MaxUpload int64
}

type Orchestrator struct {
	deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
	if deps.UploadDir == "" {
		deps.UploadDir = filepath.Join("data", "uploads")
	}
	if deps.MaxUpload <= 0 {
		deps.MaxUpload = defaultMaxUpload
	}
	return &Orchestrator{deps: deps}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", o.handleStatus)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/outline", o.handleOutline)
	mux.HandleFunc("/outline/upload", o.handleUpload)
	mux.HandleFunc("/progress/", o.handleProgress)
	mux.HandleFunc("/result/", o.handleResult)
	mux.HandleFunc("/cancel", o.handleCancel)
}

type outlineReq struct {
	FilePath  string   `json:"file_path"`
	FileURL   string   `json:"file_url"`
	UserName  string   `json:"user_name"`
	UserID    string   `json:"user_id"`
	Password  string   `json:"password"`
	Threshold *float64 `json:"threshold"`
	Source    string   `json:"source"`
}

type outlineResp struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

func (o *Orchestrator) handleOutline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req outlineReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	filePath := req.FilePath
	if filePath == "" {
		filePath = req.FileURL
	}
	user := req.UserName
	if user == "" {
		user = req.UserID
	}
	if filePath == "" || user == "" {
		http.Error(w, "missing file_path/file_url or user_name/user_id", http.StatusBadRequest)
		return
	}
	if !hasScheme(filePath) {
		if o.deps.Bucket == "" {
			http.Error(w, "AWS_S3_BUCKET not configured", http.StatusBadRequest)
			return
		}
		filePath = fmt.Sprintf("s3://%s/%s", o.deps.Bucket, strings.TrimPrefix(filePath, "/"))
	}

	job := dispatcher.NewJob(filePath, user, req.Source)
	job.Password = req.Password
	job.Threshold = req.Threshold
	o.submit(w, r, job, "Outline job created successfully")
}

// handleUpload accepts multipart uploads (file, user_name, threshold) and
// stores the file under UploadDir.
func (o *Orchestrator) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, o.deps.MaxUpload)
	if err := r.ParseMultipartForm(o.deps.MaxUpload); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()
	user := r.FormValue("user_name")
	if user == "" {
		http.Error(w, "missing user_name", http.StatusBadRequest)
		return
	}

	job := dispatcher.NewJob("", user, dispatcher.SourceUpload)
	if v := r.FormValue("threshold"); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "invalid threshold", http.StatusBadRequest)
			return
		}
		job.Threshold = &th
	}

	if err := os.MkdirAll(o.deps.UploadDir, 0o755); err != nil {
		http.Error(w, "cannot create upload dir", http.StatusInternalServerError)
		return
	}
	name := filepath.Base(hdr.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload.pdf"
	}
	localPath := filepath.Join(o.deps.UploadDir, job.JobID+"_"+name)
	if err := saveUpload(localPath, file); err != nil {
		log.Error().Err(err).Str("file", localPath).Msg("failed to save upload")
		http.Error(w, "cannot save upload", http.StatusInternalServerError)
		return
	}
	job.FilePath = "file://" + localPath
	o.submit(w, r, job, "Upload job created")
}

func saveUpload(path string, src io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (o *Orchestrator) submit(w http.ResponseWriter, r *http.Request, job dispatcher.Job, msg string) {
	if err := job.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload, err := job.Encode()
	if err != nil {
		http.Error(w, "encode job", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	meta := map[string]any{"file_path": job.FilePath, "user": job.User, "source": job.Source}
	if job.Threshold != nil {
		meta["threshold"] = *job.Threshold
	}
	if err := o.deps.Status.Set(r.Context(), job.JobID, store.Status{
		Status:   store.StatusQueued,
		Message:  "queued",
		Start:    &start,
		Metadata: meta,
	}); err != nil {
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("status init failed")
	}

	if _, err := o.deps.Queue.Enqueue(r.Context(), payload); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("enqueue failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("job_id", job.JobID).Str("file", job.FilePath).Str("user", job.User).Msg("job created")
	writeJSON(w, http.StatusCreated, outlineResp{Status: "ok", JobID: job.JobID, Message: msg})
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/progress/")
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    st.Status == store.StatusSuccess,
		"job_id":     id,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}

// handleResult serves the outline JSON, 202 while the job is running.
func (o *Orchestrator) handleResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/result/")
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	switch st.Status {
	case store.StatusSuccess:
	case store.StatusFailed, store.StatusCancelled:
		writeJSON(w, http.StatusConflict, map[string]any{"job_id": id, "status": st.Status, "message": st.Message})
		return
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": st.Status, "progress": st.Progress})
		return
	}

	body, err := o.deps.Results.Get(r.Context(), id)
	if errors.Is(err, store.ErrResultNotFound) {
		if p, _ := st.Metadata["result_local_path"].(string); p != "" {
			body, err = os.ReadFile(p)
		}
	}
	if err != nil {
		http.Error(w, "result not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%s_outline.json", id))
	_, _ = w.Write(body)
}

type cancelReq struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

func (o *Orchestrator) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	st, ok, err := o.deps.Status.Get(r.Context(), req.JobID)
	if err != nil {
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if st.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "job_id": req.JobID, "status": st.Status})
		return
	}
	if err := o.deps.Queue.CancelJob(r.Context(), req.JobID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}

	msg := "Cancelled"
	if req.Reason != "" {
		msg = "Cancelled: " + req.Reason
	}
	now := time.Now()
	_ = o.deps.Status.Set(r.Context(), req.JobID, store.Status{Status: store.StatusCancelled, Message: msg, End: &now})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": req.JobID, "status": store.StatusCancelled})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	if o.deps.Checker == nil {
		http.Error(w, "status checks disabled", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, o.deps.Checker.Summary(r.Context()))
}

func hasScheme(ref string) bool {
	for _, p := range []string{"s3://", "http://", "https://", "file://"} {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
