// Package docx manipulates merged documents as what they are: a zip of named
// XML parts. String splicing over a single flattened document has proven
// fragile; everything here works on parts and their relationships.
package docx

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/rendis/docgen-engine/internal/core/entity"
)

const (
	DocumentPart     = "word/document.xml"
	DocumentRelsPart = "word/_rels/document.xml.rels"
	ContentTypesPart = "[Content_Types].xml"
	StylesPart       = "word/styles.xml"
	NumberingPart    = "word/numbering.xml"
)

// Package is an opened document: a set of named parts with stable ordering.
type Package struct {
	order []string
	parts map[string][]byte
}

// Open parses document bytes. Anything that is not a well-formed zip with a
// document part is a template-invalid failure.
func Open(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, entity.WrapError(entity.KindTemplateInvalid, err, "document is not a valid package")
	}

	p := &Package{parts: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, entity.WrapError(entity.KindTemplateInvalid, err, "reading package part")
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, entity.WrapError(entity.KindTemplateInvalid, err, "reading package part")
		}
		if _, dup := p.parts[f.Name]; !dup {
			p.order = append(p.order, f.Name)
		}
		p.parts[f.Name] = content
	}

	if _, ok := p.parts[DocumentPart]; !ok {
		return nil, entity.NewError(entity.KindTemplateInvalid, "package has no document part")
	}
	return p, nil
}

// Part returns the content of a named part.
func (p *Package) Part(name string) ([]byte, bool) {
	data, ok := p.parts[name]
	return data, ok
}

// SetPart replaces or adds a part.
func (p *Package) SetPart(name string, data []byte) {
	if _, ok := p.parts[name]; !ok {
		p.order = append(p.order, name)
	}
	p.parts[name] = data
}

// PartNames returns part names in package order.
func (p *Package) PartNames() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Bytes rebuilds the zip. Part order is preserved so repeated round trips
// are byte-stable.
func (p *Package) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range p.order {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("creating package entry %s: %w", name, err)
		}
		if _, err := w.Write(p.parts[name]); err != nil {
			return nil, fmt.Errorf("writing package entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing package: %w", err)
	}
	return buf.Bytes(), nil
}

// bodyOf splits the document part into (before-body prefix, body content
// without trailing sectPr, trailing sectPr, suffix).
func bodyOf(document []byte) (prefix, content, sectPr, suffix string, err error) {
	doc := string(document)

	open := strings.Index(doc, "<w:body")
	if open < 0 {
		return "", "", "", "", entity.NewError(entity.KindTemplateInvalid, "document part has no body")
	}
	openEnd := strings.Index(doc[open:], ">")
	if openEnd < 0 {
		return "", "", "", "", entity.NewError(entity.KindTemplateInvalid, "document part has a malformed body tag")
	}
	bodyStart := open + openEnd + 1

	closeIdx := strings.LastIndex(doc, "</w:body>")
	if closeIdx < 0 || closeIdx < bodyStart {
		return "", "", "", "", entity.NewError(entity.KindTemplateInvalid, "document part body is not closed")
	}

	prefix = doc[:bodyStart]
	content = doc[bodyStart:closeIdx]
	suffix = doc[closeIdx:]

	// A body-level sectPr, when present, is the last element of the body.
	if idx := strings.LastIndex(content, "<w:sectPr"); idx >= 0 {
		rest := content[idx:]
		if end := strings.Index(rest, "</w:sectPr>"); end >= 0 {
			sectPr = content[idx : idx+end+len("</w:sectPr>")]
			content = content[:idx] + content[idx+end+len("</w:sectPr>"):]
		} else if end := strings.Index(rest, "/>"); end >= 0 && !strings.Contains(rest[:end], ">") {
			sectPr = content[idx : idx+end+2]
			content = content[:idx] + content[idx+end+2:]
		}
	}
	return prefix, strings.TrimSpace(content), sectPr, suffix, nil
}
