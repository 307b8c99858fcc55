package pdf

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
)

// DefaultMaxPages bounds how much of each paper is read.
const DefaultMaxPages = 8

// Extractor pulls plain text out of PDF content streams.
type Extractor struct{}

var _ ports.TextExtractor = Extractor{}

// NewExtractor returns a stateless PDF extractor.
func NewExtractor() Extractor {
	return Extractor{}
}

// ExtractText returns the sanitized text of the first maxPages pages. A
// well-formed document without text yields an empty string and no error.
func (Extractor) ExtractText(data []byte, maxPages int) (text string, err error) {
	if len(data) == 0 {
		return "", &domain.ExtractionError{Err: fmt.Errorf("empty document")}
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &domain.ExtractionError{Err: fmt.Errorf("pdfcpu panic: %v", r)}
		}
	}()

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return "", &domain.ExtractionError{Err: err}
	}

	pages := ctx.PageCount
	if pages > maxPages {
		pages = maxPages
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= pages; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		pageText := textFromContentStream(content)
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(pageText)
	}

	return strings.TrimSpace(Sanitize(sb.String())), nil
}

func unescapeLiteral(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '(', ')', '\\':
			sb.WriteByte(raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := 0
			for n := 0; n < 3 && i < len(raw) && raw[i] >= '0' && raw[i] <= '7'; n++ {
				val = val*8 + int(raw[i]-'0')
				i++
			}
			i--
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// collapseSpaces folds runs of horizontal whitespace but keeps line breaks.
func collapseSpaces(text string) string {
	var sb strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		fields := strings.FieldsFunc(line, unicode.IsSpace)
		if len(fields) == 0 {
			continue
		}
		if i > 0 && sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strings.Join(fields, " "))
	}
	return sb.String()
}
