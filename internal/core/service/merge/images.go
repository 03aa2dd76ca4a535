package merge

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/service/merge/docx"
)

const (
	maxImageBytes   = 20 << 20
	emuPerPixel     = 9525
	maxImageWidthPx = 624 // roughly the printable width of a portrait page
)

// resolveImage turns an image reference from the data tree into raw bytes
// plus a file extension. Data URIs pass through; URL references are fetched
// only when their host is allowlisted.
func (e *Engine) resolveImage(ctx context.Context, ref string, allowlist []string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref)
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", entity.NewError(entity.KindValidation, "image reference is neither a data URI nor an http(s) URL")
	}
	if !hostAllowed(u.Hostname(), allowlist) {
		return nil, "", entity.NewError(entity.KindValidation, "image host %s is not allowlisted", u.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", entity.WrapError(entity.KindValidation, err, "building image request")
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", entity.WrapError(entity.KindValidation, err, "fetching image from %s", u.Hostname())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", entity.NewError(entity.KindValidation, "image fetch from %s returned status %d", u.Hostname(), resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", entity.WrapError(entity.KindValidation, err, "reading image from %s", u.Hostname())
	}
	if len(data) > maxImageBytes {
		return nil, "", entity.NewError(entity.KindValidation, "image from %s exceeds the size limit", u.Hostname())
	}
	return data, extensionFor(http.DetectContentType(data)), nil
}

func decodeDataURI(ref string) ([]byte, string, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, "", entity.NewError(entity.KindValidation, "malformed image data URI")
	}
	meta := ref[len("data:"):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", entity.NewError(entity.KindValidation, "image data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(ref[comma+1:])
	if err != nil {
		return nil, "", entity.NewError(entity.KindValidation, "image data URI payload is not valid base64")
	}
	return data, extensionFor(strings.TrimSuffix(meta, ";base64")), nil
}

func hostAllowed(host string, allowlist []string) bool {
	for _, allowed := range allowlist {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

func extensionFor(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "png"):
		return "png"
	case strings.Contains(mediaType, "jpeg"), strings.Contains(mediaType, "jpg"):
		return "jpeg"
	case strings.Contains(mediaType, "gif"):
		return "gif"
	default:
		return "png"
	}
}

// drawingXML renders an inline picture run. The caller splices it between
// text runs, so the fragment closes the current run and reopens one after.
func drawingXML(relID string, index, widthPx, heightPx int) string {
	if widthPx > maxImageWidthPx {
		heightPx = heightPx * maxImageWidthPx / widthPx
		widthPx = maxImageWidthPx
	}
	cx := widthPx * emuPerPixel
	cy := heightPx * emuPerPixel
	name := fmt.Sprintf("Picture %d", index)

	return `</w:t></w:r><w:r><w:drawing>` +
		fmt.Sprintf(`<wp:inline distT="0" distB="0" distL="0" distR="0"><wp:extent cx="%d" cy="%d"/>`, cx, cy) +
		fmt.Sprintf(`<wp:docPr id="%d" name="%s"/>`, index, name) +
		`<a:graphic xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
		`<a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">` +
		`<pic:pic xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">` +
		fmt.Sprintf(`<pic:nvPicPr><pic:cNvPr id="%d" name="%s"/><pic:cNvPicPr/></pic:nvPicPr>`, index, name) +
		fmt.Sprintf(`<pic:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`, relID) +
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/>` +
		fmt.Sprintf(`<a:ext cx="%d" cy="%d"/></a:xfrm>`, cx, cy) +
		`<a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>` +
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r><w:r><w:t xml:space="preserve">`
}

// renderImage embeds the referenced image into the package and returns the
// drawing fragment to substitute for the directive.
func (e *Engine) renderImage(ctx context.Context, pkg *docx.Package, partName, ref string, allowlist []string, index int) (string, error) {
	data, ext, err := e.resolveImage(ctx, ref, allowlist)
	if err != nil {
		return "", err
	}

	widthPx, heightPx := 300, 200
	if cfg, _, decErr := image.DecodeConfig(bytes.NewReader(data)); decErr == nil {
		widthPx, heightPx = cfg.Width, cfg.Height
	}

	relID, err := pkg.AddImage(partName, data, ext)
	if err != nil {
		return "", err
	}
	return drawingXML(relID, index, widthPx, heightPx), nil
}

func newImageHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
