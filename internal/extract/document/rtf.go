package document

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/fpang/text-extract-pipeline/internal/extract"
)

// rtfSkipDestinations are groups whose content is never body text.
var rtfSkipDestinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "object": true, "header": true, "footer": true,
	"headerl": true, "headerr": true, "footerl": true, "footerr": true,
	"listtable": true, "listoverridetable": true, "rsidtbl": true,
	"generator": true, "xmlnstbl": true, "themedata": true, "datastore": true,
	"latentstyles": true, "colorschememapping": true, "fldinst": true,
}

// extractRTF strips control words and groups from an RTF document. Hex
// escapes are decoded as Windows-1252 and \uN escapes as Unicode.
func (h *Handler) extractRTF(p string) (*extract.Result, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.maxPartBytes {
		return nil, fmt.Errorf("rtf document is %d bytes, limit %d", len(data), h.maxPartBytes)
	}
	text, err := rtfText(data)
	if err != nil {
		return nil, err
	}
	return &extract.Result{Text: text}, nil
}

type rtfGroup struct {
	skip   bool
	ucSkip int
}

func rtfText(data []byte) (string, error) {
	var (
		out     strings.Builder
		stack   = []rtfGroup{{ucSkip: 1}}
		pending int // characters still to skip after \uN
		cp1252  = charmap.Windows1252
	)
	cur := func() *rtfGroup { return &stack[len(stack)-1] }
	emit := func(s string) {
		if !cur().skip {
			out.WriteString(s)
		}
	}

	for i := 0; i < len(data); i++ {
		c := data[i]
		switch c {
		case '{':
			stack = append(stack, *cur())
			// A group opening with \* is an ignorable destination.
			if i+2 < len(data) && data[i+1] == '\\' && data[i+2] == '*' {
				cur().skip = true
			}
		case '}':
			if len(stack) == 1 {
				return "", fmt.Errorf("unbalanced group at offset %d", i)
			}
			stack = stack[:len(stack)-1]
		case '\\':
			if i+1 >= len(data) {
				break
			}
			n := data[i+1]
			switch {
			case n == '\\' || n == '{' || n == '}':
				if pending > 0 {
					pending--
				} else {
					emit(string(n))
				}
				i++
			case n == '\'':
				if i+3 < len(data) {
					if v, err := strconv.ParseUint(string(data[i+2:i+4]), 16, 8); err == nil {
						if pending > 0 {
							pending--
						} else {
							emit(string(cp1252.DecodeByte(byte(v))))
						}
					}
				}
				i += 3
			case n == '~':
				emit(" ")
				i++
			case n == '-' || n == '_' || n == '*':
				i++
			case n == '\n' || n == '\r':
				emit("\n")
				i++
			case isASCIILetter(n):
				j := i + 1
				for j < len(data) && isASCIILetter(data[j]) {
					j++
				}
				word := string(data[i+1 : j])
				k := j
				if k < len(data) && (data[k] == '-' || (data[k] >= '0' && data[k] <= '9')) {
					k++
					for k < len(data) && data[k] >= '0' && data[k] <= '9' {
						k++
					}
				}
				param, hasParam := 0, k > j
				if hasParam {
					param, _ = strconv.Atoi(string(data[j:k]))
				}
				if k < len(data) && data[k] == ' ' {
					k++
				}
				i = k - 1

				switch {
				case rtfSkipDestinations[word]:
					cur().skip = true
				case word == "par" || word == "line" || word == "sect" || word == "page":
					emit("\n")
				case word == "row":
					emit("\n")
				case word == "tab" || word == "cell":
					emit("\t")
				case word == "uc" && hasParam:
					cur().ucSkip = param
				case word == "u" && hasParam:
					if param < 0 {
						param += 65536
					}
					emit(string(rune(param)))
					pending = cur().ucSkip
				case word == "emdash":
					emit("—")
				case word == "endash":
					emit("–")
				case word == "bullet":
					emit("•")
				case word == "lquote":
					emit("‘")
				case word == "rquote":
					emit("’")
				case word == "ldblquote":
					emit("“")
				case word == "rdblquote":
					emit("”")
				}
			default:
				i++
			}
		case '\r', '\n':
		default:
			if pending > 0 {
				pending--
				continue
			}
			emit(string(c))
		}
	}

	lines := strings.Split(out.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(joinLines(lines)), nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
