// Package synopsis produces short academic synopses of uploaded documents through a language model.
package synopsis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"acadRepo/internal/config"
)

// EmptyInputMessage is returned instead of calling the model when there is nothing to summarize.
const EmptyInputMessage = "Could not generate a synopsis. The file is empty."

const promptPrefix = "Write a brief, objective, academic-style synopsis of the following content. " +
	"Keep it to 3-5 lines and highlight only the purpose, methodology and general conclusion of the text:\n\n"

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("language model returned an empty synopsis")

// Summarizer turns document text into a synopsis.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Generator is a Summarizer backed by a langchaingo model.
type Generator struct {
	model         llms.Model
	maxInputChars int
	timeout       time.Duration
}

// NewGenerator wraps model. maxInputChars <= 0 disables truncation, timeout <= 0 disables the deadline.
func NewGenerator(model llms.Model, maxInputChars int, timeout time.Duration) *Generator {
	return &Generator{model: model, maxInputChars: maxInputChars, timeout: timeout}
}

// NewFromConfig builds the provider selected in cfg.
func NewFromConfig(ctx context.Context, cfg config.AIConfig) (*Generator, error) {
	var (
		model llms.Model
		err   error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "googleai":
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", cfg.Provider, err)
	}

	return NewGenerator(model, cfg.MaxInputChars, cfg.Timeout), nil
}

// Prompt returns the instruction sent to the model for text.
func Prompt(text string) string {
	return promptPrefix + text
}

// Summarize asks the model for a synopsis of text.
func (g *Generator) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return EmptyInputMessage, nil
	}
	text = truncate(text, g.maxInputChars)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, g.model, Prompt(text))
	if err != nil {
		return "", fmt.Errorf("generate synopsis: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
