package document

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/fpang/text-extract-pipeline/internal/extract"
)

// extractPDF reads every page's content stream and collects the text shown by
// its text operators, one block per page.
func extractPDF(path string) (*extract.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	res := &extract.Result{}
	pages := make([]string, 0, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", pageNr, err))
			continue
		}
		if r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", pageNr, err))
			continue
		}
		pages = append(pages, contentStreamText(data))
	}

	res.Text = joinBlocks(pages)
	res.Metrics.PageCount = extract.IntPtr(ctx.PageCount)
	return res, nil
}

// contentStreamText collects the strings shown by Tj, TJ, ' and " operators.
// Line-advancing operators (T*, Td/TD with a vertical move, Tm, ET) end the
// current line.
func contentStreamText(data []byte) string {
	var (
		lines    []string
		line     strings.Builder
		operands []pdfToken
	)
	newline := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}
	show := func(toks []pdfToken) {
		for _, t := range toks {
			switch t.kind {
			case tokString:
				line.WriteString(t.text)
			case tokNumber:
				// Large negative kerning inside TJ is a word gap.
				if t.num < -200 {
					line.WriteByte(' ')
				}
			}
		}
	}

	lx := &pdfLexer{data: data}
	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}
		switch tok.text {
		case "Tj", "TJ":
			show(operands)
		case "'", "\"":
			newline()
			show(operands)
		case "T*", "ET", "Tm":
			newline()
		case "Td", "TD":
			if len(operands) >= 2 && operands[len(operands)-1].num != 0 {
				newline()
			} else {
				line.WriteByte(' ')
			}
		}
		operands = operands[:0]
	}
	newline()
	return strings.Join(lines, "\n")
}

type tokKind int

const (
	tokNumber tokKind = iota + 1
	tokString
	tokName
	tokOperator
	tokArrayMark
)

type pdfToken struct {
	kind tokKind
	text string
	num  float64
}

// pdfLexer tokenizes a content stream just far enough to find text operands.
type pdfLexer struct {
	data []byte
	pos  int
}

func (l *pdfLexer) next() (pdfToken, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isPDFSpace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			return pdfToken{kind: tokString, text: l.literal()}, true
		case c == '<' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '<':
			l.pos += 2
			return pdfToken{kind: tokArrayMark}, true
		case c == '>' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '>':
			l.pos += 2
			return pdfToken{kind: tokArrayMark}, true
		case c == '<':
			return pdfToken{kind: tokString, text: l.hex()}, true
		case c == '[' || c == ']' || c == '{' || c == '}':
			l.pos++
			return pdfToken{kind: tokArrayMark}, true
		case c == '/':
			start := l.pos
			l.pos++
			for l.pos < len(l.data) && !isPDFSpace(l.data[l.pos]) && !isPDFDelim(l.data[l.pos]) {
				l.pos++
			}
			return pdfToken{kind: tokName, text: string(l.data[start:l.pos])}, true
		default:
			start := l.pos
			for l.pos < len(l.data) && !isPDFSpace(l.data[l.pos]) && !isPDFDelim(l.data[l.pos]) {
				l.pos++
			}
			if l.pos == start {
				l.pos++
				continue
			}
			word := string(l.data[start:l.pos])
			if n, err := strconv.ParseFloat(word, 64); err == nil {
				return pdfToken{kind: tokNumber, text: word, num: n}, true
			}
			return pdfToken{kind: tokOperator, text: word}, true
		}
	}
	return pdfToken{}, false
}

// literal reads a (...) string, honouring nesting and escapes.
func (l *pdfLexer) literal() string {
	l.pos++ // (
	var b strings.Builder
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return b.String()
			}
			b.WriteByte(c)
		case '\\':
			if l.pos >= len(l.data) {
				return b.String()
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// Line continuation.
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
						v = v*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					b.WriteRune(rune(v & 0xFF))
				} else {
					b.WriteByte(e)
				}
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// hex reads a <...> string. Two-byte (UTF-16BE style) hex strings from
// composite fonts are decoded when every pair forms a printable rune.
func (l *pdfLexer) hex() string {
	l.pos++ // <
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		c := l.data[l.pos]
		if isHexDigit(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, len(digits)/2)
	for i := range raw {
		raw[i] = unhex(digits[2*i])<<4 | unhex(digits[2*i+1])
	}
	if len(raw) >= 2 && len(raw)%2 == 0 && raw[0] == 0 {
		var b strings.Builder
		for i := 0; i < len(raw); i += 2 {
			b.WriteRune(rune(raw[i])<<8 | rune(raw[i+1]))
		}
		return b.String()
	}
	var b strings.Builder
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String()
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
