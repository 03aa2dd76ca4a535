package salesforce

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

// maxBinarySize caps template and artifact payloads at 256 MiB, well past
// anything the merge pipeline produces.
const maxBinarySize = 256 << 20

// DownloadBinary fetches the payload behind a content version.
func (c *Client) DownloadBinary(ctx context.Context, contentVersionID string) ([]byte, error) {
	resp, err := c.do(ctx, requestSpec{
		method: http.MethodGet,
		url:    c.dataURL("sobjects", "ContentVersion", contentVersionID, "VersionData"),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBinarySize))
	if err != nil {
		return nil, entity.WrapError(entity.KindRecordStoreUnavailable, err, "reading binary stream")
	}
	return data, nil
}

// UploadContentVersion creates a new immutable file and resolves its parent
// document id. Upload failures on the store side are retryable.
func (c *Client) UploadContentVersion(ctx context.Context, filename string, data []byte) (*port.UploadResult, error) {
	payload := map[string]any{
		"Title":        filename,
		"PathOnClient": filename,
		"VersionData":  base64.StdEncoding.EncodeToString(data),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, entity.WrapError(entity.KindInternal, err, "encoding upload payload")
	}

	resp, err := c.do(ctx, requestSpec{
		method:      http.MethodPost,
		url:         c.dataURL("sobjects", "ContentVersion"),
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return nil, reclassifyUpload(err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, reclassifyUpload(classify(resp))
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := decodeInto(resp, &created); err != nil {
		return nil, err
	}

	// The document id only exists after insert; one extra read resolves it.
	record, err := c.ReadRecord(ctx, "ContentVersion", created.ID, []string{"ContentDocumentId"})
	if err != nil {
		return nil, reclassifyUpload(err)
	}
	docID, _ := record["ContentDocumentId"].(string)
	return &port.UploadResult{ContentVersionID: created.ID, ContentDocumentID: docID}, nil
}

// reclassifyUpload tags transient store failures during upload with the
// upload-specific retryable kind.
func reclassifyUpload(err error) error {
	if entity.KindOf(err) == entity.KindRecordStoreUnavailable {
		return entity.WrapError(entity.KindUploadFailed, err, "uploading artifact")
	}
	return err
}

// CreateLink attaches an uploaded document to a parent record.
func (c *Client) CreateLink(ctx context.Context, contentDocumentID, parentID string) (string, error) {
	return c.CreateRecord(ctx, "ContentDocumentLink", map[string]any{
		"ContentDocumentId": contentDocumentID,
		"LinkedEntityId":    parentID,
		"ShareType":         "V",
		"Visibility":        "AllUsers",
	})
}
