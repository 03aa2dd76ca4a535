package docx

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/docgen-engine/internal/core/entity"
)

// relationship is one entry of a part's .rels file.
type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr,omitempty"`
}

type relationships struct {
	XMLName xml.Name       `xml:"Relationships"`
	Xmlns   string         `xml:"xmlns,attr"`
	Rels    []relationship `xml:"Relationship"`
}

const relsXmlns = "http://schemas.openxmlformats.org/package/2006/relationships"

func parseRels(data []byte) (*relationships, error) {
	rels := &relationships{Xmlns: relsXmlns}
	if len(data) == 0 {
		return rels, nil
	}
	if err := xml.Unmarshal(data, rels); err != nil {
		return nil, entity.WrapError(entity.KindTemplateInvalid, err, "parsing part relationships")
	}
	if rels.Xmlns == "" {
		rels.Xmlns = relsXmlns
	}
	return rels, nil
}

func (r *relationships) bytes() ([]byte, error) {
	out, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding part relationships: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func (r *relationships) byID(id string) (relationship, bool) {
	for _, rel := range r.Rels {
		if rel.ID == id {
			return rel, true
		}
	}
	return relationship{}, false
}

// nextID returns an unused rId.
func (r *relationships) nextID() string {
	max := 0
	for _, rel := range r.Rels {
		if n, err := strconv.Atoi(strings.TrimPrefix(rel.ID, "rId")); err == nil && n > max {
			max = n
		}
	}
	return "rId" + strconv.Itoa(max+1)
}

// add registers a relationship under a fresh id and returns that id.
func (r *relationships) add(relType, target, targetMode string) string {
	id := r.nextID()
	r.Rels = append(r.Rels, relationship{ID: id, Type: relType, Target: target, TargetMode: targetMode})
	return id
}

// findByTarget returns the id of an existing relationship with the same type
// and target, if any.
func (r *relationships) findByTarget(relType, target string) (string, bool) {
	for _, rel := range r.Rels {
		if rel.Type == relType && rel.Target == target {
			return rel.ID, true
		}
	}
	return "", false
}
