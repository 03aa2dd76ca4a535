package docx

import (
	"crypto/sha256"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

// Concatenator combines merged documents into a single one. The boundary
// between consecutive sections gets a next-page section break carrying the
// earlier section's properties, so per-section headers and footers survive.
type Concatenator struct{}

func NewConcatenator() *Concatenator {
	return &Concatenator{}
}

// Concatenate merges sections in ascending sequence order. A single section
// is returned unchanged; zero sections is an error.
func (c *Concatenator) Concatenate(sections []port.Section) ([]byte, error) {
	if len(sections) == 0 {
		return nil, entity.NewError(entity.KindNoSections, "nothing to concatenate")
	}

	ordered := make([]port.Section, len(sections))
	copy(ordered, sections)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	if len(ordered) == 1 {
		return ordered[0].Bytes, nil
	}

	base, err := Open(ordered[0].Bytes)
	if err != nil {
		return nil, err
	}
	m := &merger{
		base:      base,
		partHash:  make(map[string]string),
		nextIndex: make(map[string]int),
	}
	if err := m.init(); err != nil {
		return nil, err
	}

	for _, section := range ordered[1:] {
		next, err := Open(section.Bytes)
		if err != nil {
			return nil, err
		}
		if err := m.append(next); err != nil {
			return nil, err
		}
	}
	return m.finish()
}

// merger accumulates the combined document. Appended parts are deduplicated
// by content hash; colliding part names are renumbered.
type merger struct {
	base     *Package
	baseRels *relationships

	prefix  string
	body    strings.Builder
	sectPr  string // properties of the section currently being built
	suffix  string

	// partHash maps sha256(part content) to the part name already holding it.
	partHash map[string]string
	// nextIndex tracks the next free numeric suffix per part family
	// ("header", "footer").
	nextIndex map[string]int
}

func (m *merger) init() error {
	relsData, _ := m.base.Part(DocumentRelsPart)
	rels, err := parseRels(relsData)
	if err != nil {
		return err
	}
	m.baseRels = rels

	prefix, content, sectPr, suffix, err := bodyOf(mustPart(m.base, DocumentPart))
	if err != nil {
		return err
	}
	m.prefix = prefix
	m.body.WriteString(content)
	m.sectPr = sectPr
	m.suffix = suffix

	for _, name := range m.base.PartNames() {
		if isSectionPart(name) {
			data, _ := m.base.Part(name)
			m.partHash[hashOf(data)] = name
			family, idx := partFamily(name)
			if idx >= m.nextIndex[family] {
				m.nextIndex[family] = idx + 1
			}
		}
	}
	return nil
}

// append adds one more document after the accumulated body.
func (m *merger) append(next *Package) error {
	nextRelsData, _ := next.Part(DocumentRelsPart)
	nextRels, err := parseRels(nextRelsData)
	if err != nil {
		return err
	}

	_, content, nextSectPr, _, err := bodyOf(mustPart(next, DocumentPart))
	if err != nil {
		return err
	}

	// Close the running section with a paragraph-level break so headers and
	// footers configured for it stay scoped to it.
	m.body.WriteString(sectionBreak(m.sectPr))

	idMap := make(map[string]string)
	for _, ref := range referencedIDs(content + nextSectPr) {
		rel, ok := nextRels.byID(ref)
		if !ok {
			continue
		}
		newID, err := m.adoptRelationship(next, rel)
		if err != nil {
			return err
		}
		idMap[ref] = newID
	}

	m.body.WriteString(remapIDs(content, idMap))
	m.sectPr = remapIDs(nextSectPr, idMap)

	m.mergeStyles(next)
	m.mergeNumbering(next)
	return nil
}

// adoptRelationship copies the target part of rel into the base package
// (deduplicated by content hash) and registers a relationship for it.
func (m *merger) adoptRelationship(next *Package, rel relationship) (string, error) {
	if rel.TargetMode == "External" {
		if id, ok := m.baseRels.findByTarget(rel.Type, rel.Target); ok {
			return id, nil
		}
		return m.baseRels.add(rel.Type, rel.Target, rel.TargetMode), nil
	}

	sourceName := path.Join("word", rel.Target)
	data, ok := next.Part(sourceName)
	if !ok {
		return "", entity.NewError(entity.KindTemplateInvalid, "section references missing part %s", rel.Target)
	}

	h := hashOf(data)
	targetName, exists := m.partHash[h]
	if !exists {
		targetName = m.freshPartName(sourceName)
		m.base.SetPart(targetName, data)
		m.partHash[h] = targetName
		m.registerContentType(targetName)

		// Section parts can carry their own rels (images in headers). Copy
		// them wholesale under the new part name.
		if relsData, ok := next.Part(partRelsName(sourceName)); ok {
			m.base.SetPart(partRelsName(targetName), relsData)
		}
	}

	target := strings.TrimPrefix(targetName, "word/")
	if id, ok := m.baseRels.findByTarget(rel.Type, target); ok {
		return id, nil
	}
	return m.baseRels.add(rel.Type, target, ""), nil
}

// freshPartName keeps the original name when free, otherwise renumbers
// within the part family (header2.xml, header3.xml, ...).
func (m *merger) freshPartName(name string) string {
	if _, taken := m.base.Part(name); !taken {
		return name
	}
	family, _ := partFamily(name)
	ext := path.Ext(name)
	dir := path.Dir(name)
	for {
		idx := m.nextIndex[family]
		m.nextIndex[family] = idx + 1
		candidate := path.Join(dir, fmt.Sprintf("%s%d%s", family, idx, ext))
		if _, taken := m.base.Part(candidate); !taken {
			return candidate
		}
	}
}

func (m *merger) registerContentType(partName string) {
	ct, ok := m.base.Part(ContentTypesPart)
	if !ok {
		return
	}
	var contentType string
	switch {
	case strings.Contains(partName, "header"):
		contentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.header+xml"
	case strings.Contains(partName, "footer"):
		contentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.footer+xml"
	default:
		return // media parts are covered by extension defaults
	}

	override := fmt.Sprintf(`<Override PartName="/%s" ContentType="%s"/>`, partName, contentType)
	doc := string(ct)
	if strings.Contains(doc, `PartName="/`+partName+`"`) {
		return
	}
	doc = strings.Replace(doc, "</Types>", override+"</Types>", 1)
	m.base.SetPart(ContentTypesPart, []byte(doc))
}

// mergeStyles appends style definitions whose ids the base does not know.
func (m *merger) mergeStyles(next *Package) {
	m.mergeDefinitions(next, StylesPart, "w:style", `w:styleId="`)
}

// mergeNumbering appends numbering definitions missing from the base.
func (m *merger) mergeNumbering(next *Package) {
	m.mergeDefinitions(next, NumberingPart, "w:abstractNum", `w:abstractNumId="`)
	m.mergeDefinitions(next, NumberingPart, "w:num", `w:numId="`)
}

func (m *merger) mergeDefinitions(next *Package, partName, element, idAttr string) {
	baseData, ok := m.base.Part(partName)
	if !ok {
		if data, has := next.Part(partName); has {
			m.base.SetPart(partName, data)
		}
		return
	}
	nextData, ok := next.Part(partName)
	if !ok {
		return
	}

	base := string(baseData)
	var additions strings.Builder
	for _, def := range elementsOf(string(nextData), element) {
		id := attributeValue(def, idAttr)
		if id == "" || strings.Contains(base, idAttr+id+`"`) {
			continue
		}
		additions.WriteString(def)
		base += idAttr + id + `"` // mark as seen for duplicate ids within next
	}
	if additions.Len() == 0 {
		return
	}

	doc := string(baseData)
	closing := "</" + rootElementOf(partName) + ">"
	m.base.SetPart(partName, []byte(strings.Replace(doc, closing, additions.String()+closing, 1)))
}

func (m *merger) finish() ([]byte, error) {
	var doc strings.Builder
	doc.WriteString(m.prefix)
	doc.WriteString(m.body.String())
	doc.WriteString(m.sectPr)
	doc.WriteString(m.suffix)
	m.base.SetPart(DocumentPart, []byte(doc.String()))

	relsData, err := m.baseRels.bytes()
	if err != nil {
		return nil, err
	}
	m.base.SetPart(DocumentRelsPart, relsData)

	return m.base.Bytes()
}

// --- helpers ---

// sectionBreak renders the closing paragraph of a section. A missing sectPr
// degrades to a plain next-page section break.
func sectionBreak(sectPr string) string {
	inner := ""
	if sectPr != "" {
		inner = innerOf(sectPr, "w:sectPr")
	}
	if !strings.Contains(inner, "<w:type") {
		inner = `<w:type w:val="nextPage"/>` + inner
	}
	return `<w:p><w:pPr><w:sectPr>` + inner + `</w:sectPr></w:pPr></w:p>`
}

var refIDPattern = regexp.MustCompile(`r:(?:id|embed)="([^"]+)"`)

func referencedIDs(fragment string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, match := range refIDPattern.FindAllStringSubmatch(fragment, -1) {
		if _, dup := seen[match[1]]; !dup {
			seen[match[1]] = struct{}{}
			out = append(out, match[1])
		}
	}
	return out
}

func remapIDs(fragment string, idMap map[string]string) string {
	for old, new_ := range idMap {
		fragment = strings.ReplaceAll(fragment, `r:id="`+old+`"`, `r:id="`+new_+`"`)
		fragment = strings.ReplaceAll(fragment, `r:embed="`+old+`"`, `r:embed="`+new_+`"`)
	}
	return fragment
}

func isSectionPart(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(name, "word/") &&
		(strings.HasPrefix(base, "header") || strings.HasPrefix(base, "footer") ||
			strings.HasPrefix(name, "word/media/"))
}

// partFamily splits "word/header2.xml" into ("header", 2).
func partFamily(name string) (string, int) {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	family := strings.TrimRight(base, "0123456789")
	idx := 1
	if digits := base[len(family):]; digits != "" {
		fmt.Sscanf(digits, "%d", &idx)
	}
	return family, idx
}

func partRelsName(name string) string {
	return path.Join(path.Dir(name), "_rels", path.Base(name)+".rels")
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

func mustPart(p *Package, name string) []byte {
	data, _ := p.Part(name)
	return data
}

// innerOf returns the content between an element's opening and closing tags.
func innerOf(fragment, element string) string {
	open := strings.Index(fragment, "<"+element)
	if open < 0 {
		return ""
	}
	openEnd := strings.Index(fragment[open:], ">")
	if openEnd < 0 {
		return ""
	}
	if fragment[open+openEnd-1] == '/' {
		return ""
	}
	start := open + openEnd + 1
	close := strings.LastIndex(fragment, "</"+element+">")
	if close < start {
		return ""
	}
	return fragment[start:close]
}

// elementsOf extracts every top-level occurrence of element, including
// self-closing forms.
func elementsOf(doc, element string) []string {
	var out []string
	openTag := "<" + element
	for i := 0; ; {
		idx := strings.Index(doc[i:], openTag)
		if idx < 0 {
			break
		}
		start := i + idx
		// Reject prefixes of longer element names (w:numIdMacAtCleanup etc).
		after := doc[start+len(openTag)]
		if after != ' ' && after != '>' && after != '/' {
			i = start + len(openTag)
			continue
		}
		openEnd := strings.Index(doc[start:], ">")
		if openEnd < 0 {
			break
		}
		if doc[start+openEnd-1] == '/' {
			out = append(out, doc[start:start+openEnd+1])
			i = start + openEnd + 1
			continue
		}
		closeTag := "</" + element + ">"
		closeIdx := strings.Index(doc[start:], closeTag)
		if closeIdx < 0 {
			break
		}
		end := start + closeIdx + len(closeTag)
		out = append(out, doc[start:end])
		i = end
	}
	return out
}

func attributeValue(fragment, attrPrefix string) string {
	idx := strings.Index(fragment, attrPrefix)
	if idx < 0 {
		return ""
	}
	rest := fragment[idx+len(attrPrefix):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func rootElementOf(partName string) string {
	if partName == NumberingPart {
		return "w:numbering"
	}
	return "w:styles"
}
