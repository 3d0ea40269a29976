// Package extract turns a document's raw bytes into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/shubhambtra/chatapp-api-sub000/loader/source"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type Extractor struct {
	source source.Reader
	logger *slog.Logger
}

func New(src source.Reader, logger *slog.Logger) *Extractor {
	return &Extractor{
		source: src,
		logger: logger,
	}
}

// Extract returns the text of doc; text documents pass through unchanged.
// Output that is blank after trimming is types.ErrEmptyContent.
func (e *Extractor) Extract(ctx context.Context, doc *types.Document) (string, error) {
	text, err := e.extract(ctx, doc)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s document %s", types.ErrEmptyContent, doc.Type, doc.ID)
	}
	return text, nil
}

func (e *Extractor) extract(ctx context.Context, doc *types.Document) (string, error) {
	switch doc.Type {
	case types.DocumentText:
		return doc.Content, nil
	case types.DocumentTXT, types.DocumentPDF, types.DocumentDOCX:
	default:
		return "", fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, doc.Type)
	}

	if doc.SourcePath == "" {
		return "", fmt.Errorf("%s document %s has no source file", doc.Type, doc.ID)
	}
	data, err := e.source.Read(ctx, doc.SourcePath)
	if err != nil {
		return "", fmt.Errorf("error reading source: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.logger.Debug("extracting text", "document_id", doc.ID, "type", doc.Type, "bytes", len(data))

	switch doc.Type {
	case types.DocumentPDF:
		return PDFText(data)
	case types.DocumentDOCX:
		return DOCXText(data)
	default:
		return PlainText(data), nil
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PlainText decodes data as UTF-8, dropping a BOM and replacing invalid sequences.
func PlainText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
