package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"memegen/internal/domain"
)

const (
	uploadField        = "file"
	multipartMemory    = 8 << 20
	msgNoFilePart      = "No file part"
	msgNoSelectedFile  = "No selected file"
	msgNotImage        = "Uploaded file is not an image"
	msgTooLarge        = "File too large"
	msgJobNotFound     = "Job not found"
	msgJobNotCompleted = "Job is not completed"
	msgMemeNotFound    = "Meme image not found"
	msgInternal        = "An internal server error occurred"
)

type uploadResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Upload accepts a multipart image under the "file" field, registers a job
// and hands the bytes to the worker.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > a.MaxUploadBytes {
		a.error(w, http.StatusRequestEntityTooLarge, msgTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		a.error(w, http.StatusBadRequest, msgNoFilePart)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		// A part named "file" without a filename is parsed as a plain value.
		if _, ok := r.MultipartForm.Value[uploadField]; ok {
			a.error(w, http.StatusBadRequest, msgNoSelectedFile)
			return
		}
		a.error(w, http.StatusBadRequest, msgNoFilePart)
		return
	}
	defer file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		a.error(w, http.StatusBadRequest, msgNoSelectedFile)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: read upload failed")
		a.error(w, http.StatusInternalServerError, msgInternal)
		return
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		a.Logger.Debug().Str("mime", mtype.String()).Str("filename", header.Filename).Msg("handlers: rejected upload")
		a.error(w, http.StatusUnsupportedMediaType, msgNotImage)
		return
	}

	jobID := a.Jobs.Create()
	a.Worker.Dispatch(a.JobContext, jobID, data, header.Filename)
	a.Logger.Info().Str("job_id", jobID).Str("mime", mtype.String()).Int("bytes", len(data)).Msg("handlers: upload accepted")
	a.json(w, http.StatusAccepted, uploadResponse{JobID: jobID})
}

// Status reports the state of a job without exposing where its artifact lives.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookup(w, r)
	if !ok {
		return
	}
	resp := statusResponse{Status: string(job.Status)}
	if job.Status == domain.JobStatusFailed {
		resp.Error = job.ErrorMessage
	}
	a.json(w, http.StatusOK, resp)
}

// Result streams the rendered meme of a completed job.
func (a *App) Result(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCompleted {
		a.error(w, http.StatusAccepted, msgJobNotCompleted)
		return
	}
	f, err := os.Open(job.ArtifactPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: open artifact failed")
		}
		a.error(w, http.StatusNotFound, msgMemeNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		a.error(w, http.StatusNotFound, msgMemeNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, filepath.Base(job.ArtifactPath), info.ModTime(), f)
}

func (a *App) lookup(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.Get(jobID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: load job failed")
		}
		a.error(w, http.StatusNotFound, msgJobNotFound)
		return domain.Job{}, false
	}
	return job, true
}
