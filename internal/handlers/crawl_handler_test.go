package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"

	"rccrawler/internal/crawler"
	"rccrawler/internal/models"
	"rccrawler/internal/storage"
)

const testSecret = "s3cret"

type fakeStore struct {
	runs     map[string]*models.CrawlRun
	harvests []models.Harvest
	filters  []storage.HarvestFilter
	deleted  []string
}

func (s *fakeStore) ListRuns(ctx context.Context, platformName string) ([]models.CrawlRun, error) {
	var out []models.CrawlRun
	for _, r := range s.runs {
		if platformName == "" || r.Platform == platformName {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) GetRun(ctx context.Context, id string) (*models.CrawlRun, error) {
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return r, nil
}

func (s *fakeStore) ListHarvests(ctx context.Context, filter storage.HarvestFilter) ([]models.Harvest, error) {
	s.filters = append(s.filters, filter)
	return s.harvests, nil
}

func (s *fakeStore) GetHarvest(ctx context.Context, id string) (*models.Harvest, error) {
	for _, h := range s.harvests {
		if h.ID == id {
			return &h, nil
		}
	}
	return nil, fmt.Errorf("harvest %s: %w", id, storage.ErrNotFound)
}

func (s *fakeStore) DeleteRunHarvests(ctx context.Context, runID string) (int64, error) {
	s.deleted = append(s.deleted, runID)
	return int64(len(s.harvests)), nil
}

type fakeCrawler struct {
	started []string
	err     error
}

func (c *fakeCrawler) StartCrawl(platformName string, keywords []string) (*models.CrawlRun, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.started = append(c.started, platformName+":"+strings.Join(keywords, ","))
	return &models.CrawlRun{ID: "new", Platform: platformName, Keywords: keywords, Status: models.RunRunning}, nil
}

func newTestServer(t *testing.T, secret string) (*httptest.Server, *fakeStore, *fakeCrawler) {
	t.Helper()
	store := &fakeStore{
		runs: map[string]*models.CrawlRun{
			"r1": {ID: "r1", Platform: "amazon", Status: models.RunFinished, Started: time.Unix(0, 0)},
		},
		harvests: []models.Harvest{
			{ID: "h1", RunID: "r1", Platform: "amazon", Keyword: "shoes", Category: models.CategorySearch},
		},
	}
	c := &fakeCrawler{}
	mux := http.NewServeMux()
	NewCrawlHandler(store, c, secret).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store, c
}

func token(t *testing.T, secret string, method jwt.SigningMethod) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func do(t *testing.T, method, url, bearer, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(b)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, testSecret)
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK || body != "OK" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestGetRun(t *testing.T) {
	srv, _, _ := newTestServer(t, testSecret)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/runs/r1", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var run models.CrawlRun
	if err := json.Unmarshal([]byte(body), &run); err != nil || run.Platform != "amazon" {
		t.Fatalf("unexpected body %s (%v)", body, err)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/runs/missing", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing run status = %d", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	srv, _, _ := newTestServer(t, testSecret)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/runs?platform=bing", "", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"total":0`) {
		t.Fatalf("list runs = %d %s", resp.StatusCode, body)
	}
}

func TestRunReport(t *testing.T) {
	srv, store, _ := newTestServer(t, testSecret)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/runs/r1/report", "", "")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("report = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, "<h1>Crawl run r1</h1>") || !strings.Contains(body, "<td>shoes</td>") {
		t.Fatalf("unexpected report:\n%s", body)
	}
	if len(store.filters) != 1 || store.filters[0].RunID != "r1" {
		t.Fatalf("harvests not filtered by run: %+v", store.filters)
	}
}

func TestListHarvestsFilter(t *testing.T) {
	srv, store, _ := newTestServer(t, testSecret)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/harvests?run=r1&keyword=shoes&category=search&limit=5", "", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"total":1`) {
		t.Fatalf("list harvests = %d %s", resp.StatusCode, body)
	}
	want := storage.HarvestFilter{RunID: "r1", Keyword: "shoes", Category: models.CategorySearch, Limit: 5}
	if store.filters[0] != want {
		t.Fatalf("filter = %+v, want %+v", store.filters[0], want)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/harvests?limit=abc", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}

func TestGetHarvest(t *testing.T) {
	srv, _, _ := newTestServer(t, testSecret)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/harvests/h1", "", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"keyword":"shoes"`) {
		t.Fatalf("get harvest = %d %s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/harvests/nope", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing harvest status = %d", resp.StatusCode)
	}
}

func TestStartRunRequiresToken(t *testing.T) {
	srv, _, c := newTestServer(t, testSecret)
	body := `{"platform":"amazon","keywords":["shoes"]}`

	tests := []struct {
		name   string
		bearer string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", token(t, "other", jwt.SigningMethodHS256), http.StatusUnauthorized},
		{"wrong method", token(t, testSecret, jwt.SigningMethodHS512), http.StatusUnauthorized},
		{"valid", token(t, testSecret, jwt.SigningMethodHS256), http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, http.MethodPost, srv.URL+"/api/runs", tt.bearer, body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
	if len(c.started) != 1 || c.started[0] != "amazon:shoes" {
		t.Fatalf("started = %v", c.started)
	}
}

func TestStartRunWithoutSecret(t *testing.T) {
	srv, _, c := newTestServer(t, "")
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/runs", token(t, "anything", jwt.SigningMethodHS256), `{"platform":"amazon"}`)
	if resp.StatusCode != http.StatusForbidden || len(c.started) != 0 {
		t.Fatalf("status = %d started = %v", resp.StatusCode, c.started)
	}
}

func TestStartRunValidation(t *testing.T) {
	srv, _, c := newTestServer(t, testSecret)
	tok := token(t, testSecret, jwt.SigningMethodHS256)

	for _, body := range []string{`{`, `{"keywords":["x"]}`, `{"platform":"amazon","keywords":[""]}`} {
		resp, _ := do(t, http.MethodPost, srv.URL+"/api/runs", tok, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, resp.StatusCode)
		}
	}

	c.err = fmt.Errorf("%w: no keywords given", crawler.ErrInvalidRequest)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/runs", tok, `{"platform":"amazon"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid crawl status = %d", resp.StatusCode)
	}

	c.err = errors.New("database is locked")
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/runs", tok, `{"platform":"amazon","keywords":["x"]}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("store failure status = %d", resp.StatusCode)
	}
}

func TestCleanupRun(t *testing.T) {
	srv, store, _ := newTestServer(t, testSecret)
	tok := token(t, testSecret, jwt.SigningMethodHS256)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/runs/r1/cleanup", tok, "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"deleted":1`) {
		t.Fatalf("cleanup = %d %s", resp.StatusCode, body)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "r1" {
		t.Fatalf("deleted = %v", store.deleted)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/runs/missing/cleanup", tok, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing run status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/runs/r1/cleanup", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}
}
