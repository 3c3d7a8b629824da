package synopsis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"acadRepo/internal/extract/extracttest"
)

type fakeModel struct {
	prompts []string
	reply   string
	err     error
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type fakeSummarizer struct {
	inputs []string
	out    string
	err    error
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.inputs = append(f.inputs, text)
	return f.out, f.err
}

func TestSummarizeBlankInputSkipsModel(t *testing.T) {
	model := &fakeModel{reply: "unused"}
	g := NewGenerator(model, 100, 0)

	out, err := g.Summarize(context.Background(), "  \n\t ")
	require.NoError(t, err)
	assert.Equal(t, EmptyInputMessage, out)
	assert.Empty(t, model.prompts)
}

func TestSummarizeSendsPromptAndTrims(t *testing.T) {
	model := &fakeModel{reply: "  A synopsis.\n"}
	g := NewGenerator(model, 0, 0)

	out, err := g.Summarize(context.Background(), "Resultados del estudio")
	require.NoError(t, err)
	assert.Equal(t, "A synopsis.", out)
	require.Len(t, model.prompts, 1)
	assert.Equal(t, Prompt("Resultados del estudio"), model.prompts[0])
	assert.Contains(t, model.prompts[0], "3-5 lines")
}

func TestSummarizeTruncatesInput(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	g := NewGenerator(model, 5, 0)

	_, err := g.Summarize(context.Background(), "ñandúes corren")
	require.NoError(t, err)
	require.Len(t, model.prompts, 1)
	sent := strings.TrimPrefix(model.prompts[0], promptPrefix)
	assert.Equal(t, "ñandú", sent)
	assert.Equal(t, 5, utf8.RuneCountInString(sent))
}

func TestSummarizeErrors(t *testing.T) {
	_, err := NewGenerator(&fakeModel{err: errors.New("quota exceeded")}, 0, 0).Summarize(context.Background(), "x")
	assert.ErrorContains(t, err, "quota exceeded")

	_, err = NewGenerator(&fakeModel{reply: "   "}, 0, 0).Summarize(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestBuildUsesDocumentText(t *testing.T) {
	s := &fakeSummarizer{out: "Short synopsis."}
	res := Build(context.Background(), s, "informe.docx", extracttest.DOCX(t, "Objetivo", "Metodología"), "Title", "Desc")

	assert.Equal(t, "Short synopsis.", res.Synopsis)
	assert.False(t, res.Failed)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, SourceDocument, res.Meta.Source)
	assert.False(t, res.Meta.FallbackUsed)
	require.NotNil(t, res.Meta.GeneratedAt)
	assert.Equal(t, []string{"Objetivo\nMetodología"}, s.inputs)
}

func TestBuildUsesPDFText(t *testing.T) {
	s := &fakeSummarizer{out: "Robotics synopsis."}
	res := Build(context.Background(), s, "robotica.pdf", extracttest.PDF(t, "Hello Robotics"), "Title", "Desc")

	assert.Empty(t, res.Warnings)
	assert.Equal(t, SourceDocument, res.Meta.Source)
	require.Len(t, s.inputs, 1)
	assert.Contains(t, s.inputs[0], "Hello Robotics")
}

func TestBuildFallsBackToTitleAndDescription(t *testing.T) {
	s := &fakeSummarizer{out: "From metadata."}
	res := Build(context.Background(), s, "notes.txt", []byte("ignored"), "Robot seguidor", "Un robot de línea")

	assert.Equal(t, "From metadata.", res.Synopsis)
	assert.Equal(t, []string{"Robot seguidor\nUn robot de línea"}, s.inputs)
	assert.True(t, res.Meta.FallbackUsed)
	assert.Equal(t, SourceFallback, res.Meta.Source)
}

func TestBuildUnreadableDocumentWarns(t *testing.T) {
	s := &fakeSummarizer{out: "From metadata."}
	res := Build(context.Background(), s, "broken.pdf", []byte("garbage"), "T", "D")

	require.Len(t, res.Warnings, 1)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "could not read the file: "))
	assert.Equal(t, "From metadata.", res.Synopsis)
	assert.Equal(t, []string{"T\nD"}, s.inputs)
	assert.False(t, res.Failed)
}

func TestBuildSummarizerFailureIsWarning(t *testing.T) {
	s := &fakeSummarizer{err: errors.New("service unavailable")}
	res := Build(context.Background(), s, "informe.docx", extracttest.DOCX(t, "Texto"), "T", "D")

	assert.Empty(t, res.Synopsis)
	assert.True(t, res.Failed)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "could not generate automatic synopsis: service unavailable", res.Warnings[0])
	assert.Equal(t, res.Warnings, res.Meta.Warnings)
	assert.Nil(t, res.Meta.GeneratedAt)
}
