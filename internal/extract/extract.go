// Package extract pulls plain text out of uploaded PDF and DOCX documents.
package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
)

// ErrNoDocumentXML is returned for archives that are not Word documents.
var ErrNoDocumentXML = errors.New("docx: word/document.xml not found")

// Text returns the textual content of a document selected by the extension of filename.
// Extensions other than .pdf and .docx yield an empty string and no error.
func Text(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return PDFText(data)
	case ".docx":
		return DOCXText(data)
	default:
		return "", nil
	}
}

// PDFText concatenates the plain text of every page, one page per line.
func PDFText(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n"), nil
}

// DOCXText converts a Word document with docconv and returns its non-blank lines.
// Headers and footers come before and after the body.
func DOCXText(data []byte) (text string, err error) {
	if err := requireDocumentPart(data); err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read docx: %v", r)
		}
	}()

	raw, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("convert docx: %w", err)
	}
	return compactLines(raw), nil
}

func requireDocumentPart(data []byte) error {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open docx: %w", err)
	}
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			return nil
		}
	}
	return ErrNoDocumentXML
}

// compactLines trims every line and drops the empty ones. docconv keeps the
// whitespace between XML elements and opens each paragraph with a newline.
func compactLines(raw string) string {
	lines := strings.Split(raw, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
