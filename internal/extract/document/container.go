package document

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// container is an opened zip-based document package.
type container struct {
	zr       *zip.ReadCloser
	files    map[string]*zip.File
	maxBytes int64
}

func openContainer(p string, maxBytes int64) (*container, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[strings.TrimPrefix(f.Name, "/")] = f
	}
	return &container{zr: zr, files: files, maxBytes: maxBytes}, nil
}

func (c *container) Close() error {
	return c.zr.Close()
}

func (c *container) has(name string) bool {
	_, ok := c.files[name]
	return ok
}

// decode streams the XML tokens of one part into fn.
func (c *container) decode(name string, fn func(dec *xml.Decoder, tok xml.Token) error) error {
	f, ok := c.files[name]
	if !ok {
		return fmt.Errorf("part %s not found", name)
	}
	if f.UncompressedSize64 > uint64(c.maxBytes) {
		return fmt.Errorf("part %s is %d bytes, limit %d", name, f.UncompressedSize64, c.maxBytes)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(io.LimitReader(rc, c.maxBytes))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		if err := fn(dec, tok); err != nil {
			return err
		}
	}
}

// relationships maps relationship ids to package part names for the part
// whose relationships live at relsName.
func (c *container) relationships(relsName string) (map[string]string, error) {
	base := path.Dir(path.Dir(relsName))
	rels := make(map[string]string)
	err := c.decode(relsName, func(_ *xml.Decoder, tok xml.Token) error {
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" {
			return nil
		}
		id, target := attr(se, "Id"), attr(se, "Target")
		if id == "" || target == "" || attr(se, "TargetMode") == "External" {
			return nil
		}
		if strings.HasPrefix(target, "/") {
			rels[id] = strings.TrimPrefix(target, "/")
		} else {
			rels[id] = path.Clean(path.Join(base, target))
		}
		return nil
	})
	return rels, err
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// attrNS returns the value of the attribute with the given namespace and
// local name.
func attrNS(se xml.StartElement, space, local string) string {
	for _, a := range se.Attr {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
