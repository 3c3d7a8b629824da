package synopsis

import (
	"context"
	"strings"
	"time"

	"acadRepo/internal/database"
	"acadRepo/internal/extract"
)

// Metadata sources.
const (
	SourceDocument = "document"
	SourceFallback = "fallback"
)

// Result is the outcome of the synopsis pipeline for one upload.
type Result struct {
	Synopsis string
	Meta     database.SynopsisMeta
	Warnings []string
	// Failed is set when the model could not produce a synopsis and a retry makes sense.
	Failed bool
}

// Build extracts the text of the document and summarizes it.
// Extraction and model errors become warnings. When the document yields no text, title and
// description are summarized instead.
func Build(ctx context.Context, summarizer Summarizer, filename string, data []byte, title, description string) Result {
	var res Result

	text, err := extract.Text(filename, data)
	if err != nil {
		res.Warnings = append(res.Warnings, "could not read the file: "+err.Error())
		text = ""
	}

	res.Meta.Source = SourceDocument
	if strings.TrimSpace(text) == "" {
		text = title + "\n" + description
		res.Meta.Source = SourceFallback
		res.Meta.FallbackUsed = true
	}

	out, err := summarizer.Summarize(ctx, text)
	if err != nil {
		res.Warnings = append(res.Warnings, "could not generate automatic synopsis: "+err.Error())
		res.Failed = true
	} else {
		res.Synopsis = out
		now := time.Now().UTC()
		res.Meta.GeneratedAt = &now
	}

	res.Meta.Warnings = res.Warnings
	return res
}
