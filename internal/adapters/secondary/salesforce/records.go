package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/docgen-engine/internal/core/entity"
)

// Query runs a SOQL statement, following result pages until exhausted.
func (c *Client) Query(ctx context.Context, soql string) ([]map[string]any, error) {
	next := c.dataURL("query") + "?q=" + url.QueryEscape(soql)

	var records []map[string]any
	for next != "" {
		resp, err := c.do(ctx, requestSpec{method: http.MethodGet, url: next})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, classify(resp)
		}

		var page struct {
			Done           bool             `json:"done"`
			NextRecordsURL string           `json:"nextRecordsUrl"`
			Records        []map[string]any `json:"records"`
		}
		if err := decodeInto(resp, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Records {
			delete(r, "attributes")
			records = append(records, r)
		}

		next = ""
		if !page.Done && page.NextRecordsURL != "" {
			next = c.baseURL + page.NextRecordsURL
		}
	}
	return records, nil
}

// ReadRecord fetches selected fields of a single row.
func (c *Client) ReadRecord(ctx context.Context, objectType, id string, fields []string) (map[string]any, error) {
	u := c.dataURL("sobjects", objectType, id)
	if len(fields) > 0 {
		u += "?fields=" + url.QueryEscape(strings.Join(fields, ","))
	}
	resp, err := c.do(ctx, requestSpec{method: http.MethodGet, url: u})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp)
	}
	var record map[string]any
	if err := decodeInto(resp, &record); err != nil {
		return nil, err
	}
	delete(record, "attributes")
	return record, nil
}

// CreateRecord inserts a row and returns its id.
func (c *Client) CreateRecord(ctx context.Context, objectType string, fields map[string]any) (string, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return "", entity.WrapError(entity.KindInternal, err, "encoding record payload")
	}
	resp, err := c.do(ctx, requestSpec{
		method:      http.MethodPost,
		url:         c.dataURL("sobjects", objectType),
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", classify(resp)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := decodeInto(resp, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// WriteRecord replaces the given fields of a row. Alias of PatchRecord kept
// for call sites that semantically perform a full update.
func (c *Client) WriteRecord(ctx context.Context, objectType, id string, fields map[string]any) error {
	return c.PatchRecord(ctx, objectType, id, fields)
}

// PatchRecord partially updates a row.
func (c *Client) PatchRecord(ctx context.Context, objectType, id string, fields map[string]any) error {
	return c.patch(ctx, objectType, id, fields, nil)
}

// PatchRecordIf partially updates a row only if it has not been modified
// since the given stamp. A mid-air collision surfaces as a conflict.
func (c *Client) PatchRecordIf(ctx context.Context, objectType, id string, fields map[string]any, unmodifiedSince time.Time) error {
	h := http.Header{}
	h.Set("If-Unmodified-Since", unmodifiedSince.UTC().Format(http.TimeFormat))
	return c.patch(ctx, objectType, id, fields, h)
}

func (c *Client) patch(ctx context.Context, objectType, id string, fields map[string]any, header http.Header) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return entity.WrapError(entity.KindInternal, err, "encoding record payload")
	}
	resp, err := c.do(ctx, requestSpec{
		method:      http.MethodPatch,
		url:         c.dataURL("sobjects", objectType, id),
		body:        body,
		contentType: "application/json",
		header:      header,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return classify(resp)
	}
	drain(resp)
	return nil
}
