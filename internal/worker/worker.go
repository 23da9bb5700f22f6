// Package worker runs one captioning job per goroutine and reports the
// outcome to the job registry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"memegen/internal/compositor"
	"memegen/internal/infra"
	"memegen/internal/storage"
)

// Registry records the terminal state of a job.
type Registry interface {
	Complete(id, artifactPath string) error
	Fail(id, message string) error
}

// Captioner produces a caption for raw image bytes.
type Captioner interface {
	DescribeAndCaption(ctx context.Context, image []byte) (string, error)
}

// Renderer draws a caption onto an image.
type Renderer interface {
	Overlay(src image.Image, text string) (*image.RGBA, error)
}

// Store persists job files.
type Store interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	WriteFrom(ctx context.Context, key string, fill func(io.Writer) error) (string, error)
	Path(key string) string
}

// Options wires a Worker.
type Options struct {
	Registry  Registry
	Captioner Captioner
	Renderer  Renderer
	Store     Store
	Logger    *infra.Logger
}

// Worker processes accepted uploads in the background.
type Worker struct {
	registry  Registry
	captioner Captioner
	renderer  Renderer
	store     Store
	logger    *infra.Logger
	wg        sync.WaitGroup
}

// New returns a Worker. Every dependency except Logger is required.
func New(opts Options) (*Worker, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("worker: registry is required")
	case opts.Captioner == nil:
		return nil, errors.New("worker: captioner is required")
	case opts.Renderer == nil:
		return nil, errors.New("worker: renderer is required")
	case opts.Store == nil:
		return nil, errors.New("worker: store is required")
	}
	return &Worker{
		registry:  opts.Registry,
		captioner: opts.Captioner,
		renderer:  opts.Renderer,
		store:     opts.Store,
		logger:    infra.OrDiscard(opts.Logger),
	}, nil
}

// Dispatch starts processing jobID on its own goroutine and returns
// immediately. ctx should outlive the request that accepted the upload.
func (w *Worker) Dispatch(ctx context.Context, jobID string, data []byte, filename string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Process(ctx, jobID, data, filename)
	}()
}

// Wait blocks until every dispatched job has reported.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Process runs the job to completion and reports exactly one terminal state.
// A panic in any step is reported as a failure.
func (w *Worker) Process(ctx context.Context, jobID string, data []byte, filename string) {
	logger := w.logger.With().Str("job_id", jobID).Logger()
	logger.Info().Str("filename", filename).Int("bytes", len(data)).Msg("worker: picked job")

	artifactPath, err := w.run(ctx, jobID, data, filename)
	if err != nil {
		logger.Error().Err(err).Msg("worker: job failed")
		if ferr := w.registry.Fail(jobID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("worker: update status failed")
		}
		return
	}
	if cerr := w.registry.Complete(jobID, artifactPath); cerr != nil {
		logger.Error().Err(cerr).Msg("worker: update status failed")
		return
	}
	logger.Info().Str("artifact", artifactPath).Msg("worker: job completed")
}

func (w *Worker) run(ctx context.Context, jobID string, data []byte, filename string) (artifactPath string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if _, err := w.store.Write(ctx, storage.UploadKey(jobID, filename), data); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	src, format, err := compositor.Decode(data)
	if err != nil {
		return "", err
	}
	w.logger.Debug().Str("job_id", jobID).Str("format", format).Msg("worker: decoded upload")

	caption, err := w.captioner.DescribeAndCaption(ctx, data)
	if err != nil {
		return "", err
	}
	w.logger.Debug().Str("job_id", jobID).Str("caption", caption).Msg("worker: caption ready")

	meme, err := w.renderer.Overlay(src, caption)
	if err != nil {
		return "", fmt.Errorf("overlay caption: %w", err)
	}

	key, err := w.store.WriteFrom(ctx, storage.ArtifactKey(jobID, filename), func(out io.Writer) error {
		return compositor.EncodeJPEG(out, meme)
	})
	if err != nil {
		return "", fmt.Errorf("save meme: %w", err)
	}
	return w.store.Path(key), nil
}
