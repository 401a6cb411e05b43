package appstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSigner struct {
	calls atomic.Int32
}

func (s *countingSigner) Token(now time.Time) (string, error) {
	n := s.calls.Add(1)
	return fmt.Sprintf("token-%d", n), nil
}

func newTestClient(t *testing.T, mux *http.ServeMux, opts ...Option) (*Client, *countingSigner) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	signer := &countingSigner{}
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithSigner(signer),
		WithReportDelay(0),
	}, opts...)
	return NewClient(model.Credentials{}, opts...), signer
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListReviewsPagination(t *testing.T) {
	sizes := []int{200, 200, 50}
	var tokens []string

	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("GET /apps/{id}/customerReviews", func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		page := 0
		if c := r.URL.Query().Get("cursor"); c != "" {
			fmt.Sscanf(c, "%d", &page)
		}
		doc := map[string]any{}
		var data, included []map[string]any
		for i := 0; i < sizes[page]; i++ {
			id := fmt.Sprintf("p%d-r%d", page, i)
			rev := map[string]any{
				"type": "customerReviews",
				"id":   id,
				"attributes": map[string]any{
					"rating":           i%5 + 1,
					"title":            "title " + id,
					"body":             "body " + id,
					"reviewerNickname": "nick",
					"createdDate":      "2024-03-01T10:00:00-07:00",
					"territory":        "USA",
				},
				"relationships": map[string]any{
					"response": map[string]any{"data": nil},
				},
			}
			if i%10 == 0 {
				respID := "resp-" + id
				rev["relationships"] = map[string]any{
					"response": map[string]any{"data": map[string]any{"type": "customerReviewResponses", "id": respID}},
				}
				included = append(included, map[string]any{
					"type": "customerReviewResponses",
					"id":   respID,
					"attributes": map[string]any{
						"responseBody":     "thanks " + id,
						"lastModifiedDate": "2024-03-02T10:00:00.000-0700",
						"state":            "PUBLISHED",
					},
				})
			}
			data = append(data, rev)
		}
		doc["data"] = data
		doc["included"] = included
		links := map[string]any{"self": r.URL.String()}
		if page < len(sizes)-1 {
			links["next"] = fmt.Sprintf("%s/apps/%s/customerReviews?cursor=%d", base, r.PathValue("id"), page+1)
		}
		doc["links"] = links
		writeJSON(w, http.StatusOK, doc)
	})

	c, signer := newTestClient(t, mux)
	base = c.baseURL

	reviews, err := c.ListReviews(context.Background(), "app1")
	require.NoError(t, err)
	assert.Len(t, reviews, 450)

	seen := make(map[string]bool)
	var answered int
	for _, r := range reviews {
		assert.False(t, seen[r.ID], "duplicate review %s", r.ID)
		seen[r.ID] = true
		assert.Equal(t, "app1", r.AppID)
		if r.Response != nil {
			answered++
			assert.Equal(t, "thanks "+r.ID, r.Response.Body)
			assert.Equal(t, r.ID, r.Response.ReviewID)
			assert.Equal(t, model.Published, r.Response.State)
		}
	}
	assert.Equal(t, 20+20+5, answered)
	assert.Equal(t, "p0-r0", reviews[0].ID)
	assert.Equal(t, "p2-r49", reviews[449].ID)

	// every request carries its own token
	assert.Equal(t, int32(3), signer.calls.Load())
	assert.Equal(t, []string{"Bearer token-1", "Bearer token-2", "Bearer token-3"}, tokens)
}

func TestRespond(t *testing.T) {
	var hits atomic.Int32
	var got reviewResponseCreateRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /customerReviewResponses", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"type":"customerReviewResponses","id":"resp1"}}`))
	})
	c, _ := newTestClient(t, mux)

	tests := []struct {
		name     string
		body     string
		wantErr  error
		wantHits int32
	}{
		{name: "max length", body: strings.Repeat("a", model.MaxResponseLength), wantHits: 1},
		{name: "too long", body: strings.Repeat("a", model.MaxResponseLength+1), wantErr: model.ErrValidation},
		{name: "empty", body: "  ", wantErr: model.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits.Store(0)
			err := c.Respond(context.Background(), "r2", tt.body)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}

	assert.Equal(t, "customerReviewResponses", got.Data.Type)
	assert.Equal(t, ResourceIdentifier{Type: "customerReviews", ID: "r2"}, got.Data.Relationships.Review.Data)
}

func TestDeleteResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /customerReviewResponses/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "resp1" {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Errors: []Errors{{Status: "404", Title: "not found", Detail: "no such response"}}})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := newTestClient(t, mux)

	assert.NoError(t, c.DeleteResponse(context.Background(), "resp1"))

	err := c.DeleteResponse(context.Background(), "other")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "no such response")

	assert.ErrorIs(t, c.DeleteResponse(context.Background(), ""), model.ErrInvalidInput)
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantKind error
	}{
		{name: "detail", status: 403, body: `{"errors":[{"status":"403","code":"FORBIDDEN","title":"Forbidden","detail":"key revoked"}]}`, wantMsg: "key revoked", wantKind: model.ErrAuthFailure},
		{name: "title only", status: 409, body: `{"errors":[{"status":"409","title":"Conflict"}]}`, wantMsg: "Conflict", wantKind: model.ErrConflict},
		{name: "undecodable", status: 502, body: `<html>bad gateway</html>`, wantMsg: "HTTP status 502", wantKind: model.ErrRemoteUnavailable},
		{name: "bad request", status: 400, body: `{}`, wantMsg: "HTTP status 400", wantKind: model.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /apps", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			c, _ := newTestClient(t, mux)

			_, err := c.ListApps(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.ErrorIs(t, err, tt.wantKind)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(model.Credentials{})
	assert.False(t, c.Configured())

	_, err := c.ListApps(context.Background())
	assert.ErrorIs(t, err, model.ErrAuthFailure)

	assert.ErrorIs(t, c.Configure(model.Credentials{IssuerID: "iss"}), model.ErrInvalidInput)
	assert.ErrorIs(t, c.Configure(model.Credentials{IssuerID: "iss", KeyID: "kid", PrivateKey: "!!"}), ErrInvalidPrivateKey)
	assert.False(t, c.Configured())
}

func TestListApps(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("GET /apps", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []map[string]any{
					{"type": "apps", "id": "app1", "attributes": map[string]any{"name": "One", "bundleId": "com.example.one", "sku": "ONE", "primaryLocale": "de-DE"}},
				},
				"links": map[string]any{"next": base + "/apps?cursor=2"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"type": "apps", "id": "app2", "attributes": map[string]any{"name": "Two", "bundleId": "com.example.two", "sku": "TWO"}},
			},
			"links": map[string]any{},
		})
	})
	mux.HandleFunc("GET /apps/{id}/appStoreVersions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "-createdDate", r.URL.Query().Get("sort"))
		if r.PathValue("id") == "app2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"type": "appStoreVersions", "id": "v1", "attributes": map[string]any{"versionString": "1.2.3", "appStoreState": "READY_FOR_SALE"}},
			},
		})
	})
	c, _ := newTestClient(t, mux)
	base = c.baseURL

	apps, err := c.ListApps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)

	assert.Equal(t, "One", apps[0].Name)
	assert.Equal(t, "de-DE", apps[0].PrimaryLocale)
	assert.Equal(t, "1.2.3", apps[0].CurrentVersion)
	assert.Equal(t, model.ReadyForSale, apps[0].VersionState)

	// version failure only leaves the fields empty
	assert.Equal(t, "Two", apps[1].Name)
	assert.Equal(t, model.DefaultLocale, apps[1].PrimaryLocale)
	assert.Empty(t, apps[1].CurrentVersion)
	assert.Empty(t, apps[1].VersionState)
}

func gzipTSV(t *testing.T, tsv string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(tsv))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSum30DayDownloads(t *testing.T) {
	today := time.Date(2024, 6, 30, 15, 0, 0, 0, time.UTC)
	noData := map[string]bool{
		"2024-06-29": true,
		"2024-06-20": true,
		"2024-06-10": true,
		"2024-06-05": true,
		"2024-05-31": true,
	}
	report := gzipTSV(t, "Provider\tSKU\tUnits\tTitle\nAPPLE\tONE\t2\tOne\nAPPLE\tTWO\t3.00\tTwo\n")

	var requested atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /salesReports", func(w http.ResponseWriter, r *http.Request) {
		requested.Add(1)
		q := r.URL.Query()
		assert.Equal(t, "application/a-gzip", r.Header.Get("Accept"))
		assert.Equal(t, "DAILY", q.Get("filter[frequency]"))
		assert.Equal(t, "SUMMARY", q.Get("filter[reportSubType]"))
		assert.Equal(t, "85000000", q.Get("filter[vendorNumber]"))
		if noData[q.Get("filter[reportDate]")] {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Errors: []Errors{{Status: "400", Detail: "no report"}}})
			return
		}
		w.Header().Set("Content-Type", "application/a-gzip")
		w.Write(report)
	})
	c, _ := newTestClient(t, mux, WithClock(func() time.Time { return today }))

	total, err := c.Sum30DayDownloads(context.Background(), "85000000")
	require.NoError(t, err)
	assert.Equal(t, 25*5, total)
	assert.Equal(t, int32(30), requested.Load())
}

func TestSum30DayDownloadsAllFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /salesReports", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.Sum30DayDownloads(context.Background(), "85000000")
	assert.ErrorIs(t, err, model.ErrRemoteUnavailable)

	_, err = c.Sum30DayDownloads(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSumUnits(t *testing.T) {
	tests := []struct {
		name    string
		tsv     string
		want    int
		wantErr bool
	}{
		{name: "units by name", tsv: "Units\tProvider\n1\tAPPLE\n4\tAPPLE\n", want: 5},
		{name: "units not first", tsv: "A\tB\tUnits\nx\ty\t7\n\nx\ty\t\n", want: 7},
		{name: "decimal", tsv: "Units\n2.00\n1.5\n", want: 3},
		{name: "empty", tsv: "", want: 0},
		{name: "no units column", tsv: "Provider\tSKU\nAPPLE\tONE\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SumUnits([]byte(tt.tsv))
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate(t *testing.T) {
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = time.Now })

	want := time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2024-03-01T10:00:00-07:00", want: want},
		{in: "2024-03-01T17:00:00Z", want: want},
		{in: "2024-03-01T17:00:00.000Z", want: want},
		{in: "2024-03-01T17:00:00", want: want},
		{in: "2024-03-01T10:00:00.000-0700", want: want},
		{in: "yesterday", want: fixed},
		{in: "", want: fixed},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, tt.want.Equal(ParseDate(tt.in)), "got %s", ParseDate(tt.in))
		})
	}
}
