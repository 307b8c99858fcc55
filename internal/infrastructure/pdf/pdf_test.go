package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/retry"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	in := "a\x00b\x01c\nd\te\rf\x7f" + string([]byte{0xff, 0xfe}) + "g"
	assert.Equal(t, "abc\nd\te\rfg", Sanitize(in))
}

func TestTextFromContentStream(t *testing.T) {
	t.Parallel()

	stream := []byte(`BT
/F1 12 Tf
72 712 Td
(Attention Is) Tj
( All You Need) Tj
T*
[(Trans) -20 (former\051)] TJ
ET`)

	got := textFromContentStream(stream)
	assert.Equal(t, "Attention Is All You Need\nTransformer)", got)
}

func TestTextFromContentStreamOperatorLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{name: "single line block", stream: "BT /F1 12 Tf 72 712 Td (x) Tj ET", want: "x"},
		{name: "operator after show", stream: "BT\n[(Hello)]TJ 0 -12 Td\n[(World)]TJ\nET", want: "Hello World"},
		{name: "hex strings", stream: "BT [<48656C6C6F>]TJ <20576F726C64> Tj ET", want: "Hello World"},
		{name: "odd hex digits", stream: "BT <4142434> Tj ET", want: "ABC@"},
		{name: "kerned word gap", stream: "BT [(Deep)-300(Learning)]TJ ET", want: "Deep Learning"},
		{name: "nested parentheses", stream: "BT (f(x) = y) Tj ET", want: "f(x) = y"},
		{name: "quote operators", stream: "BT (one) Tj (two) ' 1 2 (three) \" ET", want: "one\ntwo\nthree"},
		{name: "dictionary operands", stream: "/Span <</MCID 0>> BDC BT (tagged) Tj ET EMC", want: "tagged"},
		{name: "inline image", stream: "BI /W 1 /H 1 ID \x00(Tj)\xff EI BT (after) Tj ET", want: "after"},
		{name: "comments", stream: "% (ignored) Tj\nBT (kept) Tj ET", want: "kept"},
		{name: "graphics only", stream: "0 0 m 10 10 l S", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, textFromContentStream([]byte(tc.stream)))
		})
	}
}

func TestExtractTextReadsLeadingPagesOnly(t *testing.T) {
	t.Parallel()

	doc := buildPDF([]string{
		"BT /F1 12 Tf 72 712 Td (Page one text) Tj ET",
		"BT /F1 12 Tf 72 712 Td [(Page)-300(two)-300(text)]TJ ET",
		"BT /F1 12 Tf 72 712 Td (Page three text) Tj ET",
	})

	text, err := NewExtractor().ExtractText(doc, 2)
	require.NoError(t, err)
	assert.Contains(t, text, "Page one text")
	assert.Contains(t, text, "Page two text")
	assert.NotContains(t, text, "Page three")

	all, err := NewExtractor().ExtractText(doc, 0)
	require.NoError(t, err)
	assert.Contains(t, all, "Page three text")
}

func TestExtractTextWithoutTextLayer(t *testing.T) {
	t.Parallel()

	doc := buildPDF([]string{"0 0 m 100 100 l S", "0.5 g 10 10 50 50 re f"})

	text, err := NewExtractor().ExtractText(doc, 8)
	require.NoError(t, err)
	assert.Empty(t, text)
}

// buildPDF writes an uncompressed PDF with one page per content stream.
func buildPDF(pages []string) []byte {
	var buf bytes.Buffer
	count := 3 + 2*len(pages)
	offsets := make([]int, count+1)

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", strings.Join(kids, " "), len(pages)))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for i, content := range pages {
		page, stream := 4+2*i, 5+2*i
		writeObj(page, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", stream))
		writeObj(stream, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", count+1)
	for i := 1; i <= count; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%EOF\n", count+1, xref)
	return buf.Bytes()
}

func TestUnescapeLiteralOctal(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b", unescapeLiteral([]byte(`a\040b`)))
	assert.Equal(t, "(x)", unescapeLiteral([]byte(`\(x\)`)))
}

func TestExtractTextRejectsCorruptInput(t *testing.T) {
	t.Parallel()

	_, err := NewExtractor().ExtractText([]byte("definitely not a pdf"), 8)

	var extractionErr *domain.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}

func TestExtractTextRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := NewExtractor().ExtractText(nil, 8)

	var extractionErr *domain.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}

func TestDownloaderRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer server.Close()

	d := NewDownloader(server.Client(), 0, nil)
	d.policy = retry.Policy{Attempts: 3, Initial: time.Millisecond}

	body, err := d.Download(context.Background(), server.URL+"/pdf/1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownloaderDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	d := NewDownloader(server.Client(), 0, nil)
	d.policy = retry.Policy{Attempts: 3, Initial: time.Millisecond}

	_, err := d.Download(context.Background(), server.URL+"/pdf/missing")
	require.Error(t, err)

	var se *statusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.code)
	assert.Equal(t, int32(1), hits.Load())
}
