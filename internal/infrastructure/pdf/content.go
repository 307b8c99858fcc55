package pdf

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"
)

// kerning adjustments in a TJ array at or below this value read as a word gap.
const tjSpaceThreshold = -250

type tokenKind int

const (
	tokenOther tokenKind = iota
	tokenString
	tokenNumber
	tokenArrayStart
	tokenArrayEnd
	tokenOperator
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// operand is a string, a number or an array collected before an operator.
type operand struct {
	kind  tokenKind
	text  string
	num   float64
	items []operand
}

// textFromContentStream walks text-showing operators (Tj, TJ, ', ") and
// positioning operators (Td, TD, Tm, T*) of one page content stream.
func textFromContentStream(content []byte) string {
	lx := &contentLexer{data: content}
	var (
		sb       strings.Builder
		operands []operand
	)

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokenArrayStart:
			operands = append(operands, operand{kind: tokenArrayStart, items: lx.readArray()})
		case tokenString, tokenNumber:
			operands = append(operands, operand{kind: tok.kind, text: tok.text, num: tok.num})
		case tokenOperator:
			showText(&sb, tok.text, operands)
			if tok.text == "ID" {
				lx.skipInlineImage()
			}
			operands = operands[:0]
		case tokenOther:
			operands = append(operands, operand{})
		}
	}

	return collapseSpaces(sb.String())
}

func showText(sb *strings.Builder, op string, operands []operand) {
	var last operand
	if len(operands) > 0 {
		last = operands[len(operands)-1]
	}

	switch op {
	case "Tj":
		if last.kind == tokenString {
			sb.WriteString(last.text)
		}
	case "'", `"`:
		sb.WriteByte('\n')
		if last.kind == tokenString {
			sb.WriteString(last.text)
		}
	case "TJ":
		if last.kind != tokenArrayStart {
			return
		}
		for _, item := range last.items {
			switch {
			case item.kind == tokenString:
				sb.WriteString(item.text)
			case item.kind == tokenNumber && item.num <= tjSpaceThreshold:
				sb.WriteByte(' ')
			}
		}
	case "Td", "TD", "Tm":
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
	case "T*", "ET":
		sb.WriteByte('\n')
	}
}

type contentLexer struct {
	data []byte
	pos  int
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (lx *contentLexer) skipSpaceAndComments() {
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		switch {
		case isPDFSpace(c):
			lx.pos++
		case c == '%':
			for lx.pos < len(lx.data) && lx.data[lx.pos] != '\n' && lx.data[lx.pos] != '\r' {
				lx.pos++
			}
		default:
			return
		}
	}
}

func (lx *contentLexer) next() (token, bool) {
	lx.skipSpaceAndComments()
	if lx.pos >= len(lx.data) {
		return token{}, false
	}

	c := lx.data[lx.pos]
	switch c {
	case '(':
		return token{kind: tokenString, text: lx.readLiteral()}, true
	case '<':
		if lx.peek(1) == '<' {
			lx.pos += 2
			return token{kind: tokenOther}, true
		}
		return token{kind: tokenString, text: lx.readHex()}, true
	case '>':
		lx.pos++
		if lx.peek(0) == '>' {
			lx.pos++
		}
		return token{kind: tokenOther}, true
	case '[':
		lx.pos++
		return token{kind: tokenArrayStart}, true
	case ']':
		lx.pos++
		return token{kind: tokenArrayEnd}, true
	case ')', '{', '}':
		lx.pos++
		return token{kind: tokenOther}, true
	case '/':
		lx.pos++
		lx.readRegular()
		return token{kind: tokenOther}, true
	}

	word := lx.readRegular()
	if num, err := strconv.ParseFloat(word, 64); err == nil {
		return token{kind: tokenNumber, text: word, num: num}, true
	}
	return token{kind: tokenOperator, text: word}, true
}

func (lx *contentLexer) peek(offset int) byte {
	if lx.pos+offset >= len(lx.data) {
		return 0
	}
	return lx.data[lx.pos+offset]
}

func (lx *contentLexer) readRegular() string {
	start := lx.pos
	for lx.pos < len(lx.data) && !isPDFSpace(lx.data[lx.pos]) && !isPDFDelimiter(lx.data[lx.pos]) {
		lx.pos++
	}
	if lx.pos == start {
		lx.pos++
	}
	return string(lx.data[start:lx.pos])
}

// readLiteral consumes a balanced (...) string, honoring escapes.
func (lx *contentLexer) readLiteral() string {
	lx.pos++
	start := lx.pos
	depth := 1
	for lx.pos < len(lx.data) {
		switch lx.data[lx.pos] {
		case '\\':
			lx.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				raw := lx.data[start:lx.pos]
				lx.pos++
				return unescapeLiteral(raw)
			}
		}
		lx.pos++
	}
	return unescapeLiteral(lx.data[start:])
}

// readHex consumes a <...> string. Odd digit counts are padded with 0.
func (lx *contentLexer) readHex() string {
	lx.pos++
	var digits []byte
	for lx.pos < len(lx.data) && lx.data[lx.pos] != '>' {
		c := lx.data[lx.pos]
		if ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F') {
			digits = append(digits, c)
		}
		lx.pos++
	}
	lx.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	n, err := hex.Decode(out, digits)
	if err != nil {
		return ""
	}
	return string(out[:n])
}

func (lx *contentLexer) readArray() []operand {
	var items []operand
	for {
		tok, ok := lx.next()
		if !ok || tok.kind == tokenArrayEnd {
			return items
		}
		switch tok.kind {
		case tokenArrayStart:
			items = append(items, operand{kind: tokenArrayStart, items: lx.readArray()})
		case tokenString, tokenNumber:
			items = append(items, operand{kind: tok.kind, text: tok.text, num: tok.num})
		}
	}
}

// skipInlineImage jumps past binary image data up to the EI operator.
func (lx *contentLexer) skipInlineImage() {
	marker := []byte("EI")
	for lx.pos < len(lx.data) {
		idx := bytes.Index(lx.data[lx.pos:], marker)
		if idx < 0 {
			lx.pos = len(lx.data)
			return
		}
		at := lx.pos + idx
		lx.pos = at + len(marker)
		before := at == 0 || isPDFSpace(lx.data[at-1])
		after := lx.pos >= len(lx.data) || isPDFSpace(lx.data[lx.pos])
		if before && after {
			return
		}
	}
}
