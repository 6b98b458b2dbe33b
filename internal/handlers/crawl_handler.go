package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"rccrawler/internal/crawler"
	"rccrawler/internal/logging"
	"rccrawler/internal/models"
	"rccrawler/internal/platform"
	"rccrawler/internal/report"
	"rccrawler/internal/storage"
)

const maxHarvestLimit = 1000

// Store is the read side of the crawl storage plus harvest cleanup
type Store interface {
	ListRuns(ctx context.Context, platformName string) ([]models.CrawlRun, error)
	GetRun(ctx context.Context, id string) (*models.CrawlRun, error)
	ListHarvests(ctx context.Context, filter storage.HarvestFilter) ([]models.Harvest, error)
	GetHarvest(ctx context.Context, id string) (*models.Harvest, error)
	DeleteRunHarvests(ctx context.Context, runID string) (int64, error)
}

// Crawler starts crawls in the background
type Crawler interface {
	StartCrawl(platformName string, keywords []string) (*models.CrawlRun, error)
}

type CrawlHandler struct {
	store     Store
	crawler   Crawler
	jwtSecret []byte
}

func NewCrawlHandler(store Store, c Crawler, jwtSecret string) *CrawlHandler {
	return &CrawlHandler{
		store:     store,
		crawler:   c,
		jwtSecret: []byte(jwtSecret),
	}
}

// Routes registers the API on mux
func (h *CrawlHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/runs", h.HandleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", h.HandleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/report", h.HandleRunReport)
	mux.Handle("POST /api/runs", RequireJWT(h.jwtSecret, http.HandlerFunc(h.HandleStartRun)))
	mux.Handle("POST /api/runs/{id}/cleanup", RequireJWT(h.jwtSecret, http.HandlerFunc(h.HandleCleanupRun)))

	mux.HandleFunc("GET /api/harvests", h.HandleListHarvests)
	mux.HandleFunc("GET /api/harvests/{id}", h.HandleGetHarvest)
}

func (h *CrawlHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		logging.For("api").Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "Error fetching runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(runs),
		"runs":  runs,
	})
}

func (h *CrawlHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.findRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *CrawlHandler) HandleRunReport(w http.ResponseWriter, r *http.Request) {
	run, ok := h.findRun(w, r)
	if !ok {
		return
	}
	harvests, err := h.store.ListHarvests(r.Context(), storage.HarvestFilter{RunID: run.ID})
	if err != nil {
		logging.For("api").Error("failed to list harvests", "run", run.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Error fetching harvests")
		return
	}
	body, err := report.HTML(*run, harvests)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Crawl run %s</title></head><body>\n", run.ID)
	w.Write(body)
	w.Write([]byte("</body></html>\n"))
}

type startRunRequest struct {
	Platform string   `json:"platform"`
	Keywords []string `json:"keywords"`
}

func (req startRunRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Platform, validation.Required),
		validation.Field(&req.Keywords, validation.Each(validation.Required)),
	)
}

func (h *CrawlHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.crawler.StartCrawl(req.Platform, req.Keywords)
	switch {
	case errors.Is(err, crawler.ErrInvalidRequest), errors.Is(err, platform.ErrUnknownPlatform):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logging.For("api").Error("failed to start crawl", "platform", req.Platform, "error", err)
		writeError(w, http.StatusInternalServerError, "Error starting crawl")
		return
	}

	logging.For("api").Info("crawl started", "run", run.ID, "platform", run.Platform, "keywords", len(run.Keywords))
	writeJSON(w, http.StatusAccepted, run)
}

func (h *CrawlHandler) HandleCleanupRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.findRun(w, r)
	if !ok {
		return
	}
	deleted, err := h.store.DeleteRunHarvests(r.Context(), run.ID)
	if err != nil {
		logging.For("api").Error("failed to delete harvests", "run", run.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting harvests")
		return
	}

	logging.For("api").Info("cleanup completed", "run", run.ID, "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":     run.ID,
		"deleted": deleted,
		"message": "Harvests cleanup completed successfully",
	})
}

func (h *CrawlHandler) HandleListHarvests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.HarvestFilter{
		RunID:    q.Get("run"),
		Platform: q.Get("platform"),
		Keyword:  q.Get("keyword"),
		Category: models.PageCategory(q.Get("category")),
		Limit:    100,
	}
	if l := q.Get("limit"); l != "" {
		limit, err := cast.ToIntE(l)
		if err != nil || limit < 1 || limit > maxHarvestLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHarvestLimit))
			return
		}
		filter.Limit = limit
	}

	harvests, err := h.store.ListHarvests(r.Context(), filter)
	if err != nil {
		logging.For("api").Error("failed to list harvests", "error", err)
		writeError(w, http.StatusInternalServerError, "Error fetching harvests")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(harvests),
		"harvests": harvests,
	})
}

func (h *CrawlHandler) HandleGetHarvest(w http.ResponseWriter, r *http.Request) {
	harvest, err := h.store.GetHarvest(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Harvest not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error fetching harvest")
		return
	}
	writeJSON(w, http.StatusOK, harvest)
}

func (h *CrawlHandler) findRun(w http.ResponseWriter, r *http.Request) (*models.CrawlRun, bool) {
	run, err := h.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found")
		return nil, false
	}
	if err != nil {
		logging.For("api").Error("failed to fetch run", "error", err)
		writeError(w, http.StatusInternalServerError, "Error fetching run")
		return nil, false
	}
	return run, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
