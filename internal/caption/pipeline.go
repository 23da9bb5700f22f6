package caption

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"memegen/internal/domain"
	"memegen/internal/infra"
	"memegen/internal/providers/ollama"
)

const (
	DefaultVisionModel  = "llava-phi3"
	DefaultCaptionModel = "llama3:8b"
	DefaultMaxWords     = 20

	describePrompt   = "Describe this image:"
	captionTemplate  = "Create a funny meme with the format 'When %s, then [something humorous]'."
	captionMaxTokens = 60
)

// Generator is the subset of the Ollama client used by the pipeline.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (string, error)
}

// Options configures a Pipeline.
type Options struct {
	VisionModel  string
	CaptionModel string
	MaxWords     int
	Logger       *infra.Logger
}

// Pipeline turns image bytes into a short meme caption with two sequential
// generate calls: image to description, description to caption.
type Pipeline struct {
	generator    Generator
	visionModel  string
	captionModel string
	maxWords     int
	logger       *infra.Logger

	// visionMu serializes the image description call across all jobs. The
	// caption call is not covered.
	visionMu sync.Mutex
}

// NewPipeline wires a pipeline around generator.
func NewPipeline(generator Generator, opts Options) *Pipeline {
	vision := strings.TrimSpace(opts.VisionModel)
	if vision == "" {
		vision = DefaultVisionModel
	}
	captionModel := strings.TrimSpace(opts.CaptionModel)
	if captionModel == "" {
		captionModel = DefaultCaptionModel
	}
	maxWords := opts.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	return &Pipeline{
		generator:    generator,
		visionModel:  vision,
		captionModel: captionModel,
		maxWords:     maxWords,
		logger:       infra.OrDiscard(opts.Logger),
	}
}

// DescribeAndCaption returns the processed caption for image, or an error
// describing which step failed.
func (p *Pipeline) DescribeAndCaption(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("caption: %w: empty payload", domain.ErrInvalidImage)
	}
	description, err := p.describe(ctx, image)
	if err != nil {
		p.logger.Error().Err(err).Str("model", p.visionModel).Msg("caption: describe step failed")
		return "", fmt.Errorf("describe image: %w", err)
	}
	p.logger.Debug().Str("description", description).Msg("caption: image described")

	text, err := p.generator.Generate(ctx, ollama.GenerateRequest{
		Model:     p.captionModel,
		Prompt:    fmt.Sprintf(captionTemplate, description),
		MaxTokens: captionMaxTokens,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("model", p.captionModel).Msg("caption: caption step failed")
		return "", fmt.Errorf("generate caption: %w", err)
	}

	caption := LimitWords(norm.NFC.String(text), p.maxWords)
	if caption == "" {
		return "", fmt.Errorf("generate caption: %w", domain.ErrEmptyCaption)
	}
	return caption, nil
}

func (p *Pipeline) describe(ctx context.Context, image []byte) (string, error) {
	p.visionMu.Lock()
	defer p.visionMu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(image)
	p.logger.Debug().Int("bytes", len(image)).Int("encoded", len(encoded)).Msg("caption: encoded image")
	return p.generator.Generate(ctx, ollama.GenerateRequest{
		Model:  p.visionModel,
		Prompt: describePrompt,
		Images: []string{encoded},
	})
}

// LimitWords keeps at most max whitespace separated words. Text within the
// limit is returned unchanged.
func LimitWords(text string, max int) string {
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ")
}
