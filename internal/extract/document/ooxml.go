package document

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fpang/text-extract-pipeline/internal/extract"
)

const (
	nsWord    = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsSheet   = "http://schemas.openxmlformats.org/spreadsheetml/2006/main"
	nsDrawing = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsRel     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsPres    = "http://schemas.openxmlformats.org/presentationml/2006/main"
)

// extractDOCX emits one line per paragraph of word/document.xml in document
// order. Table cells become paragraphs of their own.
func (h *Handler) extractDOCX(p string) (*extract.Result, error) {
	c, err := openContainer(p, h.maxPartBytes)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var (
		paras  []string
		cur    strings.Builder
		inText bool
	)
	err = c.decode("word/document.xml", func(_ *xml.Decoder, tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != nsWord {
				return nil
			}
			switch t.Name.Local {
			case "p":
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != nsWord {
				return nil
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paras = append(paras, strings.TrimRight(cur.String(), " \t"))
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &extract.Result{Text: joinLines(paras)}, nil
}

// extractXLSX renders each worksheet as a titled block of tab-separated rows.
func (h *Handler) extractXLSX(p string) (*extract.Result, error) {
	c, err := openContainer(p, h.maxPartBytes)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	shared, err := h.sharedStrings(c)
	if err != nil {
		return nil, err
	}

	type sheetRef struct{ name, rid string }
	var sheets []sheetRef
	err = c.decode("xl/workbook.xml", func(_ *xml.Decoder, tok xml.Token) error {
		if se, ok := tok.(xml.StartElement); ok && se.Name.Space == nsSheet && se.Name.Local == "sheet" {
			sheets = append(sheets, sheetRef{name: attr(se, "name"), rid: attrNS(se, nsRel, "id")})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rels, err := c.relationships("xl/_rels/workbook.xml.rels")
	if err != nil {
		return nil, err
	}

	res := &extract.Result{}
	blocks := make([]string, 0, len(sheets))
	totalRows := 0
	for i, s := range sheets {
		part, ok := rels[s.rid]
		if !ok {
			part = fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1)
		}
		if !c.has(part) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("sheet %q: part %s missing", s.name, part))
			continue
		}
		rows, err := sheetRows(c, part, shared)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", s.name, err)
		}
		totalRows += len(rows)
		blocks = append(blocks, "Sheet: "+s.name+"\n"+strings.Join(rows, "\n"))
	}

	res.Text = joinBlocks(blocks)
	res.Metrics.SheetCount = extract.IntPtr(len(sheets))
	res.Metrics.RowCount = extract.IntPtr(totalRows)
	return res, nil
}

func (h *Handler) sharedStrings(c *container) ([]string, error) {
	const part = "xl/sharedStrings.xml"
	if !c.has(part) {
		return nil, nil
	}
	var (
		out    []string
		cur    strings.Builder
		inText bool
	)
	err := c.decode(part, func(_ *xml.Decoder, tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				cur.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "si":
				out = append(out, cur.String())
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
		return nil
	})
	return out, err
}

// sheetRows returns one tab-separated line per non-empty row. Cells are placed
// by their column reference so gaps survive as empty fields.
func sheetRows(c *container, part string, shared []string) ([]string, error) {
	var (
		rows     []string
		cells    []string
		cellType string
		col      int
		inValue  bool
		value    strings.Builder
	)
	err := c.decode(part, func(_ *xml.Decoder, tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				cells = cells[:0]
			case "c":
				cellType = attr(t, "t")
				col = columnIndex(attr(t, "r"), len(cells))
				value.Reset()
			case "v", "t":
				inValue = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				v := value.String()
				if cellType == "s" {
					if i, err := strconv.Atoi(v); err == nil && i >= 0 && i < len(shared) {
						v = shared[i]
					}
				}
				for len(cells) < col {
					cells = append(cells, "")
				}
				cells = append(cells, v)
			case "row":
				line := strings.TrimRight(strings.Join(cells, "\t"), "\t")
				if strings.TrimSpace(line) != "" {
					rows = append(rows, line)
				}
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
		return nil
	})
	return rows, err
}

// columnIndex converts the letters of a cell reference like "C7" to a zero
// based column. Missing references continue after the previous cell.
func columnIndex(ref string, fallback int) int {
	n := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		n = n*26 + int(r-'A'+1)
	}
	if n == 0 || n > 16384 {
		return fallback
	}
	return n - 1
}

// extractPPTX emits the text of each slide in presentation order.
func (h *Handler) extractPPTX(p string) (*extract.Result, error) {
	c, err := openContainer(p, h.maxPartBytes)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	slides, err := slideParts(c)
	if err != nil {
		return nil, err
	}

	blocks := make([]string, 0, len(slides))
	for i, part := range slides {
		var (
			paras  []string
			cur    strings.Builder
			inText bool
		)
		err := c.decode(part, func(_ *xml.Decoder, tok xml.Token) error {
			switch t := tok.(type) {
			case xml.StartElement:
				if t.Name.Space != nsDrawing {
					return nil
				}
				switch t.Name.Local {
				case "p":
					cur.Reset()
				case "t":
					inText = true
				case "br":
					cur.WriteByte('\n')
				}
			case xml.EndElement:
				if t.Name.Space != nsDrawing {
					return nil
				}
				switch t.Name.Local {
				case "t":
					inText = false
				case "p":
					paras = append(paras, cur.String())
				}
			case xml.CharData:
				if inText {
					cur.Write(t)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", i+1, err)
		}
		blocks = append(blocks, fmt.Sprintf("Slide %d\n%s", i+1, joinLines(paras)))
	}

	return &extract.Result{
		Text:    joinBlocks(blocks),
		Metrics: extract.Metrics{SlideCount: extract.IntPtr(len(slides))},
	}, nil
}

// slideParts lists slide part names in presentation order, falling back to
// numeric file order when the presentation part cannot be resolved.
func slideParts(c *container) ([]string, error) {
	var ids []string
	if c.has("ppt/presentation.xml") {
		err := c.decode("ppt/presentation.xml", func(_ *xml.Decoder, tok xml.Token) error {
			if se, ok := tok.(xml.StartElement); ok && se.Name.Space == nsPres && se.Name.Local == "sldId" {
				ids = append(ids, attrNS(se, nsRel, "id"))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(ids) > 0 && c.has("ppt/_rels/presentation.xml.rels") {
		rels, err := c.relationships("ppt/_rels/presentation.xml.rels")
		if err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			if p, ok := rels[id]; ok && c.has(p) {
				parts = append(parts, p)
			}
		}
		if len(parts) == len(ids) {
			return parts, nil
		}
	}

	type numbered struct {
		n    int
		name string
	}
	var found []numbered
	for name := range c.files {
		if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		found = append(found, numbered{n, name})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	parts := make([]string, len(found))
	for i, f := range found {
		parts[i] = f.name
	}
	return parts, nil
}

// joinLines joins paragraphs with newlines, collapsing runs of empty ones.
func joinLines(paras []string) string {
	var b strings.Builder
	blank := false
	for _, p := range paras {
		if strings.TrimSpace(p) == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if blank {
				b.WriteByte('\n')
			}
		}
		blank = false
		b.WriteString(p)
	}
	return b.String()
}
