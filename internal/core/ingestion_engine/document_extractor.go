package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
)

// AllowedContentTypes is the upload allow-list: PDF, DOCX, DOC and
// plain text.
var AllowedContentTypes = map[string]struct{}{
	"application/pdf": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/msword": {},
	"text/plain":         {},
}

// TextExtractor turns raw document bytes into plain text. The content
// type hint selects the parsing strategy.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

// DocconvExtractor implements TextExtractor using sajari/docconv for
// PDF and Word formats; plain text passes through untouched.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	if _, ok := AllowedContentTypes[contentType]; !ok {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}

	if contentType == "text/plain" {
		return string(data), nil
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return "", fmt.Errorf("docconv %s: %w", contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text := strings.TrimSpace(res.Body)
	if text == "" {
		return "", fmt.Errorf("no text extracted from %s document", contentType)
	}
	return text, nil
}

var _ TextExtractor = (*DocconvExtractor)(nil)
