// Package salesforce is the outbound REST adapter for the record store. It
// owns authentication and error classification. It never retries; retry
// policy lives with the caller so interactive and batch paths can differ.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/infra/logging"
)

// Config holds the connection settings of the client.
type Config struct {
	Domain     string
	ClientID   string
	Username   string
	PrivateKey string
	APIVersion string
}

// Client is the REST client. Safe for concurrent use; the token cache is the
// only shared mutable state and is refreshed under its own lock.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	tokens     *tokenManager
}

// New builds a client. The private key is parsed eagerly so misconfiguration
// fails at startup rather than on the first request.
func New(cfg *Config) (*Client, error) {
	tm, err := newTokenManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing token manager: %w", err)
	}
	return &Client{
		baseURL:    "https://" + strings.TrimSuffix(cfg.Domain, "/"),
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tm,
	}, nil
}

func (c *Client) dataURL(parts ...string) string {
	return c.baseURL + "/services/data/" + c.apiVersion + "/" + strings.Join(parts, "/")
}

// DownloadURL derives the public artifact download URL for a content version.
func (c *Client) DownloadURL(contentVersionID string) string {
	return c.baseURL + "/sfc/servlet.shepherd/version/download/" + contentVersionID
}

// Ping verifies record-store auth by ensuring a valid token is available.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.tokens.Token(ctx, false)
	return err
}

type requestSpec struct {
	method      string
	url         string
	body        []byte
	contentType string
	header      http.Header
}

// do issues one authenticated request. A single 401 triggers a token refresh
// and replay; that is credential recovery, not request retry.
func (c *Client) do(ctx context.Context, spec requestSpec) (*http.Response, error) {
	resp, err := c.doOnce(ctx, spec, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		resp, err = c.doOnce(ctx, spec, true)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, spec requestSpec, forceRefresh bool) (*http.Response, error) {
	token, err := c.tokens.Token(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if spec.body != nil {
		body = bytes.NewReader(spec.body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.method, spec.url, body)
	if err != nil {
		return nil, entity.WrapError(entity.KindInternal, err, "building record store request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if spec.contentType != "" {
		req.Header.Set("Content-Type", spec.contentType)
	}
	if cid := logging.CorrelationID(ctx); cid != "" {
		req.Header.Set("X-Correlation-Id", cid)
	}
	for k, vs := range spec.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, entity.WrapError(entity.KindRecordStoreUnavailable, err, "record store unreachable")
	}
	return resp, nil
}

// apiError is the decoded record-store error payload.
type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// classify maps a non-2xx response to a domain error. The body is consumed.
func classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	_ = resp.Body.Close()

	var apiErrs []apiError
	_ = json.Unmarshal(raw, &apiErrs)
	code := ""
	msg := strings.TrimSpace(string(raw))
	if len(apiErrs) > 0 {
		code = apiErrs[0].ErrorCode
		msg = apiErrs[0].Message
	}

	switch {
	case resp.StatusCode >= 500:
		return entity.NewError(entity.KindRecordStoreUnavailable, "record store error %d (%s)", resp.StatusCode, code)
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusPreconditionFailed,
		code == "DUPLICATE_VALUE",
		code == "DUPLICATES_DETECTED":
		return entity.NewError(entity.KindRecordStoreConflict, "record store conflict (%s)", code)
	case resp.StatusCode == http.StatusNotFound:
		return entity.NewError(entity.KindTemplateNotFound, "record store resource not found")
	default:
		return entity.NewError(entity.KindValidation, "record store rejected request: %s", msg)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func decodeInto(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return entity.WrapError(entity.KindRecordStoreUnavailable, err, "decoding record store response")
	}
	return nil
}
