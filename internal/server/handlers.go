package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dygy/piano-grep/internal/arrange"
	"github.com/dygy/piano-grep/internal/audio"
	"github.com/dygy/piano-grep/internal/pipeline"
	"github.com/dygy/piano-grep/internal/report"
	"github.com/dygy/piano-grep/internal/structure"
	"github.com/dygy/piano-grep/internal/workspace"
)

// multipart parts beyond the file itself
const formOverhead = 1 << 20

// jobRequest is the JSON form of a job submission
type jobRequest struct {
	URL          string   `json:"url"`
	Difficulty   string   `json:"difficulty"`
	DetectChorus *bool    `json:"detect_chorus"`
	RenderPDF    *bool    `json:"render_pdf"`
	Tempo        *float64 `json:"tempo"`
}

type jobCreated struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

type jobResult struct {
	Difficulty string           `json:"difficulty"`
	Tempo      float64          `json:"tempo"`
	Chorus     structure.Window `json:"chorus"`
	RightNotes int              `json:"right_notes"`
	LeftNotes  int              `json:"left_notes"`
	FromCache  bool             `json:"from_cache"`
	HasPDF     bool             `json:"has_pdf"`
	Warnings   []string         `json:"warnings,omitempty"`
}

type jobStatus struct {
	JobID     string     `json:"job_id"`
	Status    JobStatus  `json:"status"`
	Stage     string     `json:"stage"`
	Filename  string     `json:"filename,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Result    *jobResult `json:"result,omitempty"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateJob accepts a multipart upload or a YouTube URL
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	limit := s.settings.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)

	req, err := s.parseJobRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large, maximum size is %dMB", s.settings.Server.MaxUploadMB))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts, err := s.jobOptions(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.MultipartForm != nil && len(r.MultipartForm.File["file"]) > 0 {
		s.createUploadJob(w, r, opts)
		return
	}

	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "provide an audio file or a YouTube URL")
		return
	}
	if !audio.IsYouTubeURL(req.URL) {
		writeError(w, http.StatusBadRequest, "invalid YouTube URL, provide a youtube.com or youtu.be link")
		return
	}

	job, err := s.jobs.Create()
	if err != nil {
		s.internalError(w, "create job", err)
		return
	}
	job.URL = req.URL
	job.Filename = req.URL
	job.Options = opts
	s.jobs.Start(job)

	writeJSON(w, http.StatusAccepted, jobCreated{JobID: job.ID, Status: StatusPending})
}

func (s *Server) createUploadJob(w http.ResponseWriter, r *http.Request, opts pipeline.Config) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}
	defer file.Close()

	if !audio.IsSupportedExtension(header.Filename) {
		writeError(w, http.StatusUnsupportedMediaType,
			"unsupported format, upload one of: "+strings.Join(audio.SupportedExtensions, ", "))
		return
	}
	if header.Size > s.settings.MaxUploadBytes() {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large, maximum size is %dMB", s.settings.Server.MaxUploadMB))
		return
	}

	job, err := s.jobs.Create()
	if err != nil {
		s.internalError(w, "create job", err)
		return
	}

	inputPath, err := s.saveUpload(job, strings.ToLower(filepath.Ext(header.Filename)), file)
	if err != nil {
		s.internalError(w, "save upload", err)
		return
	}

	job.InputPath = inputPath
	job.Filename = header.Filename
	job.Options = opts
	s.jobs.Start(job)

	writeJSON(w, http.StatusAccepted, jobCreated{JobID: job.ID, Status: StatusPending})
}

// saveUpload copies an upload into the job directory. On failure the job
// is discarded.
func (s *Server) saveUpload(job *Job, ext string, src io.Reader) (string, error) {
	ws := &workspace.Workspace{Dir: job.WorkDir}
	path := ws.InputCopy(ext)

	err := func() error {
		dst, err := os.Create(path)
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return err
		}
		return dst.Close()
	}()
	if err != nil {
		s.jobs.remove(job)
		return "", err
	}
	return path, nil
}

// parseJobRequest reads a JSON body or form values into a jobRequest
func (s *Server) parseJobRequest(r *http.Request) (jobRequest, error) {
	var req jobRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return req, err
			}
			return req, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return req, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return req, err
		}
	}

	req.URL = strings.TrimSpace(r.FormValue("url"))
	req.Difficulty = r.FormValue("difficulty")
	for name, dst := range map[string]**bool{"detect_chorus": &req.DetectChorus, "render_pdf": &req.RenderPDF} {
		v := r.FormValue(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("%s: %q is not a boolean", name, v)
		}
		*dst = &b
	}
	if v := r.FormValue("tempo"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, fmt.Errorf("tempo: %q is not a number", v)
		}
		req.Tempo = &t
	}
	return req, nil
}

// jobOptions applies a request on top of the configured defaults
func (s *Server) jobOptions(req jobRequest) (pipeline.Config, error) {
	opts := pipeline.DefaultConfig(s.settings)

	if req.Difficulty != "" {
		d, err := arrange.ParseDifficulty(req.Difficulty)
		if err != nil {
			return opts, err
		}
		opts.Difficulty = d
	}
	if req.DetectChorus != nil {
		opts.DetectChorus = *req.DetectChorus
	}
	if req.RenderPDF != nil {
		opts.RenderPDF = *req.RenderPDF
	}
	if req.Tempo != nil {
		if *req.Tempo < 0 {
			return opts, errors.New("tempo must not be negative")
		}
		opts.Tempo = *req.Tempo
	}
	return opts, nil
}

// handleStatus returns the job state as JSON
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}

	snap := job.Snapshot()
	resp := jobStatus{
		JobID:     job.ID,
		Status:    snap.Status,
		Stage:     snap.Stage,
		Filename:  job.Filename,
		Error:     snap.Error,
		CreatedAt: job.CreatedAt,
	}
	if res := snap.Result; res != nil {
		resp.Result = &jobResult{
			Difficulty: string(res.Difficulty),
			Tempo:      res.Tempo,
			Chorus:     res.Chorus,
			RightNotes: len(res.Arrangement.Right),
			LeftNotes:  len(res.Arrangement.Left),
			FromCache:  res.FromCache,
			HasPDF:     res.PDFPath != "",
			Warnings:   res.Warnings,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams progress events via SSE, replaying earlier ones first
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sent := 0
	for {
		events, changed, finished := job.eventsSince(sent)
		for _, e := range events {
			data, _ := json.Marshal(e)
			fmt.Fprintf(w, "event: progress\n")
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		sent += len(events)

		if finished {
			fmt.Fprintf(w, "event: done\n")
			fmt.Fprintf(w, "data: %s\n\n", job.Snapshot().Status)
			flusher.Flush()
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		}
	}
}

// handleTranscription serves transcription.json of a finished job
func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	res := s.finishedResult(w, r)
	if res == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, res.TranscriptionPath)
}

// handleDownloadMIDI serves the arrangement MIDI file
func (s *Server) handleDownloadMIDI(w http.ResponseWriter, r *http.Request) {
	res := s.finishedResult(w, r)
	if res == nil {
		return
	}
	serveAttachment(w, r, res.MIDIPath, "audio/midi", "arrangement.mid")
}

// handleDownloadPDF serves the rendered score when one exists
func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	res := s.finishedResult(w, r)
	if res == nil {
		return
	}
	if res.PDFPath == "" {
		writeError(w, http.StatusNotFound, "no score was rendered for this job")
		return
	}
	serveAttachment(w, r, res.PDFPath, "application/pdf", "arrangement.pdf")
}

// handleReport renders the HTML report of a finished job
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	res := s.finishedResult(w, r)
	if res == nil {
		return
	}
	data, err := report.NewGenerator(res.OutputDir).LoadData()
	if err != nil {
		s.internalError(w, "load report", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, report.GenerateFromData(data))
}

// job looks up the {id} job, writing a 404 when missing
func (s *Server) job(w http.ResponseWriter, r *http.Request) *Job {
	job := s.jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
	}
	return job
}

// finishedResult returns the result of a completed job or writes the error
func (s *Server) finishedResult(w http.ResponseWriter, r *http.Request) *pipeline.Result {
	job := s.job(w, r)
	if job == nil {
		return nil
	}
	snap := job.Snapshot()
	switch snap.Status {
	case StatusComplete:
		return snap.Result
	case StatusFailed:
		writeError(w, http.StatusConflict, "job failed: "+snap.Error)
	default:
		writeError(w, http.StatusConflict, "job not finished")
	}
	return nil
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, what+" failed")
}

func serveAttachment(w http.ResponseWriter, r *http.Request, path, contentType, name string) {
	if !workspace.Exists(path) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
