package salesforce

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docgen-engine/internal/core/entity"
)

// testClient points a client at srv with a pre-seeded session token.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &Client{
		baseURL:    srv.URL,
		apiVersion: "v59.0",
		httpClient: srv.Client(),
		tokens: &tokenManager{
			tokenURL:  srv.URL + "/services/oauth2/token",
			clientID:  "client-1",
			username:  "svc@acme.com",
			audience:  srv.URL,
			key:       key,
			client:    srv.Client(),
			token:     "test-token",
			expiresAt: time.Now().Add(time.Hour),
		},
	}
}

func TestQueryFollowsPages(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/services/data/v59.0/query":
			assert.Contains(t, r.URL.RawQuery, "SELECT")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"done":           false,
				"nextRecordsUrl": "/services/data/v59.0/query/01g-next",
				"records": []map[string]any{
					{"attributes": map[string]any{"type": "Account"}, "Id": "001A", "Name": "Acme"},
				},
			})
		case "/services/data/v59.0/query/01g-next":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"done": true,
				"records": []map[string]any{
					{"attributes": map[string]any{"type": "Account"}, "Id": "001B", "Name": "Globex"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	records, err := testClient(t, srv).Query(context.Background(), "SELECT Id, Name FROM Account")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "001A", records[0]["Id"])
	assert.Equal(t, "001B", records[1]["Id"])
	assert.NotContains(t, records[0], "attributes")
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestReadRecordSelectsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/data/v59.0/sobjects/Account/001X", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "fields=")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"attributes": map[string]any{"type": "Account"},
			"Id":         "001X",
			"Name":       "Acme",
		})
	}))
	defer srv.Close()

	record, err := testClient(t, srv).ReadRecord(context.Background(), "Account", "001X", []string{"Id", "Name"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", record["Name"])
	assert.NotContains(t, record, "attributes")
}

func TestCreateRecordClassifiesDuplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode([]apiError{{ErrorCode: "DUPLICATE_VALUE", Message: "duplicate hash"}})
	}))
	defer srv.Close()

	_, err := testClient(t, srv).CreateRecord(context.Background(), "DocGen_Tracking__c", map[string]any{"Request_Hash__c": "h"})
	require.Error(t, err)
	assert.Equal(t, entity.KindRecordStoreConflict, entity.KindOf(err))
}

func TestPatchRecordIfSendsPrecondition(t *testing.T) {
	stamp := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, stamp.Format(http.TimeFormat), r.Header.Get("If-Unmodified-Since"))
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	err := testClient(t, srv).PatchRecordIf(context.Background(), "DocGen_Tracking__c", "a00X",
		map[string]any{"Status__c": "PROCESSING"}, stamp)
	require.Error(t, err)
	assert.Equal(t, entity.KindRecordStoreConflict, entity.KindOf(err))
}

func TestServerErrorsAreRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Query(context.Background(), "SELECT Id FROM Account")
	require.Error(t, err)
	assert.Equal(t, entity.KindRecordStoreUnavailable, entity.KindOf(err))
	assert.True(t, entity.IsRetryable(err))
}

func TestMissingResourceIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).DownloadBinary(context.Background(), "068-missing")
	require.Error(t, err)
	assert.Equal(t, entity.KindTemplateNotFound, entity.KindOf(err))
}

func TestUploadContentVersionResolvesDocumentID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/services/data/v59.0/sobjects/ContentVersion":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "report.pdf", payload["Title"])
			raw, err := base64.StdEncoding.DecodeString(payload["VersionData"].(string))
			require.NoError(t, err)
			assert.Equal(t, "%PDF-1.7", string(raw))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "068-new"})
		case r.Method == http.MethodGet && r.URL.Path == "/services/data/v59.0/sobjects/ContentVersion/068-new":
			_ = json.NewEncoder(w).Encode(map[string]any{"ContentDocumentId": "069-doc"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := testClient(t, srv).UploadContentVersion(context.Background(), "report.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "068-new", res.ContentVersionID)
	assert.Equal(t, "069-doc", res.ContentDocumentID)
}

func TestUploadStoreOutageIsUploadFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).UploadContentVersion(context.Background(), "report.pdf", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, entity.KindUploadFailed, entity.KindOf(err))
	assert.True(t, entity.IsRetryable(err))
}

func TestUnauthorizedTriggersRefreshAndReplay(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/services/oauth2/token":
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh-token"})
		case "/services/data/v59.0/sobjects/Account/001X":
			calls++
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"Id": "001X"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	record, err := testClient(t, srv).ReadRecord(context.Background(), "Account", "001X", nil)
	require.NoError(t, err)
	assert.Equal(t, "001X", record["Id"])
	assert.Equal(t, 2, calls, "the 401 response is replayed once after refresh")
}

func TestPingAcquiresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/services/oauth2/token", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok"})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	c.tokens.token = ""

	require.NoError(t, c.Ping(context.Background()))
}
