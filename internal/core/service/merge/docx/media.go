package docx

import (
	"fmt"
	"path"
	"strings"
)

const imageRelType = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"

// AddImage stores image bytes as a media part, registers its content type,
// and relates it to ownerPart. Returns the relationship id usable in r:embed.
func (p *Package) AddImage(ownerPart string, data []byte, ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")

	mediaName := ""
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("word/media/image%d.%s", i, ext)
		if _, taken := p.parts[candidate]; !taken {
			mediaName = candidate
			break
		}
	}
	p.SetPart(mediaName, data)

	if err := p.ensureDefaultContentType(ext); err != nil {
		return "", err
	}

	relsName := partRelsName(ownerPart)
	relsData, _ := p.Part(relsName)
	rels, err := parseRels(relsData)
	if err != nil {
		return "", err
	}

	// Targets are relative to the owner part's directory.
	target, err := relativeTarget(ownerPart, mediaName)
	if err != nil {
		return "", err
	}
	id := rels.add(imageRelType, target, "")

	out, err := rels.bytes()
	if err != nil {
		return "", err
	}
	p.SetPart(relsName, out)
	return id, nil
}

func (p *Package) ensureDefaultContentType(ext string) error {
	ct, ok := p.Part(ContentTypesPart)
	if !ok {
		return fmt.Errorf("package has no content types part")
	}
	doc := string(ct)
	if strings.Contains(doc, `Extension="`+ext+`"`) {
		return nil
	}
	contentType := map[string]string{
		"png":  "image/png",
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"gif":  "image/gif",
	}[ext]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	def := fmt.Sprintf(`<Default Extension="%s" ContentType="%s"/>`, ext, contentType)
	p.SetPart(ContentTypesPart, []byte(strings.Replace(doc, "</Types>", def+"</Types>", 1)))
	return nil
}

func relativeTarget(ownerPart, partName string) (string, error) {
	ownerDir := path.Dir(ownerPart)
	if !strings.HasPrefix(partName, ownerDir+"/") {
		return "", fmt.Errorf("part %s is not under %s", partName, ownerDir)
	}
	return strings.TrimPrefix(partName, ownerDir+"/"), nil
}
