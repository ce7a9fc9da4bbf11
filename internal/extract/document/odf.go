package document

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/fpang/text-extract-pipeline/internal/extract"
)

const (
	nsODFText  = "urn:oasis:names:tc:opendocument:xmlns:text:1.0"
	nsODFTable = "urn:oasis:names:tc:opendocument:xmlns:table:1.0"
	nsODFDraw  = "urn:oasis:names:tc:opendocument:xmlns:drawing:1.0"
)

// maxRepeatedColumns caps table:number-columns-repeated, which spreadsheets
// use to pad rows out to the last column of the grid.
const maxRepeatedColumns = 256

// odfState walks content.xml once for all three OpenDocument flavours.
type odfState struct {
	format Format

	blocks    []string // sheets or slides
	lines     []string // lines of the current block
	para      strings.Builder
	paraDepth int

	cells      []string
	cellRepeat int
	inCell     bool
	cellText   strings.Builder
	sheetName  string
	sheets     int
	slides     int
	rows       int
}

// extractODF reads content.xml of an OpenDocument text, spreadsheet or
// presentation.
func (h *Handler) extractODF(p string, format Format) (*extract.Result, error) {
	c, err := openContainer(p, h.maxPartBytes)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	s := &odfState{format: format}
	if err := c.decode("content.xml", func(_ *xml.Decoder, tok xml.Token) error {
		s.token(tok)
		return nil
	}); err != nil {
		return nil, err
	}

	res := &extract.Result{}
	switch format {
	case ODT:
		res.Text = joinLines(s.lines)
	case ODS:
		res.Text = joinBlocks(s.blocks)
		res.Metrics.SheetCount = extract.IntPtr(s.sheets)
		res.Metrics.RowCount = extract.IntPtr(s.rows)
	case ODP:
		res.Text = joinBlocks(s.blocks)
		res.Metrics.SlideCount = extract.IntPtr(s.slides)
	}
	return res, nil
}

func (s *odfState) token(tok xml.Token) {
	switch t := tok.(type) {
	case xml.StartElement:
		s.start(t)
	case xml.EndElement:
		s.end(t)
	case xml.CharData:
		if s.paraDepth > 0 {
			s.para.Write(t)
		}
	}
}

func (s *odfState) start(t xml.StartElement) {
	switch t.Name.Space {
	case nsODFText:
		switch t.Name.Local {
		case "p", "h":
			if s.paraDepth == 0 {
				s.para.Reset()
			}
			s.paraDepth++
		case "tab":
			s.para.WriteByte('\t')
		case "line-break":
			s.para.WriteByte('\n')
		case "s":
			n, err := strconv.Atoi(attrNS(t, nsODFText, "c"))
			if err != nil || n < 1 {
				n = 1
			}
			s.para.WriteString(strings.Repeat(" ", min(n, 64)))
		}
	case nsODFTable:
		switch t.Name.Local {
		case "table":
			if s.format == ODS {
				s.sheetName = attrNS(t, nsODFTable, "name")
				s.lines = s.lines[:0]
				s.sheets++
			}
		case "table-row":
			s.cells = s.cells[:0]
		case "table-cell", "covered-table-cell":
			s.inCell = true
			s.cellText.Reset()
			s.cellRepeat = 1
			if n, err := strconv.Atoi(attrNS(t, nsODFTable, "number-columns-repeated")); err == nil && n > 1 {
				s.cellRepeat = min(n, maxRepeatedColumns)
			}
		}
	case nsODFDraw:
		if t.Name.Local == "page" && s.format == ODP {
			s.lines = s.lines[:0]
			s.slides++
		}
	}
}

func (s *odfState) end(t xml.EndElement) {
	switch t.Name.Space {
	case nsODFText:
		if t.Name.Local != "p" && t.Name.Local != "h" {
			return
		}
		s.paraDepth--
		if s.paraDepth > 0 {
			return
		}
		text := s.para.String()
		if s.inCell {
			if s.cellText.Len() > 0 {
				s.cellText.WriteByte(' ')
			}
			s.cellText.WriteString(text)
			return
		}
		s.lines = append(s.lines, text)
	case nsODFTable:
		switch t.Name.Local {
		case "table-cell", "covered-table-cell":
			s.inCell = false
			for i := 0; i < s.cellRepeat; i++ {
				s.cells = append(s.cells, s.cellText.String())
			}
		case "table-row":
			line := strings.TrimRight(strings.Join(s.cells, "\t"), "\t")
			if strings.TrimSpace(line) == "" {
				return
			}
			s.lines = append(s.lines, line)
			if s.format == ODS {
				s.rows++
			}
		case "table":
			if s.format == ODS {
				s.blocks = append(s.blocks, fmt.Sprintf("Sheet: %s\n%s", s.sheetName, strings.Join(s.lines, "\n")))
				s.lines = s.lines[:0]
			}
		}
	case nsODFDraw:
		if t.Name.Local == "page" && s.format == ODP {
			s.blocks = append(s.blocks, fmt.Sprintf("Slide %d\n%s", s.slides, joinLines(s.lines)))
			s.lines = s.lines[:0]
		}
	}
}
