package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/migrations/logs"
	pbModels "github.com/pocketbase/pocketbase/models"
	"github.com/pocketbase/pocketbase/models/schema"
	"github.com/pocketbase/pocketbase/tools/migrate"

	"rccrawler/internal/logging"
	"rccrawler/internal/models"
)

const (
	runsCollection     = "crawl_runs"
	harvestsCollection = "harvests"

	// harvested pages can carry large listings
	maxJSONSize = 5 << 20
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// HarvestFilter narrows ListHarvests. Empty fields match everything.
type HarvestFilter struct {
	RunID    string
	Platform string
	Keyword  string
	Category models.PageCategory
	Limit    int
}

type PocketBaseStore struct {
	app *pocketbase.PocketBase
}

// NewPocketBaseStore opens (or creates) the PocketBase data directory,
// applies the system migrations and ensures the crawler collections exist.
func NewPocketBaseStore(dataDir string) (*PocketBaseStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	app := pocketbase.NewWithConfig(pocketbase.Config{
		DefaultDataDir:  dataDir,
		HideStartBanner: true,
	})

	if err := app.Bootstrap(); err != nil {
		return nil, fmt.Errorf("failed to bootstrap PocketBase: %w", err)
	}

	if err := runMigrations(app); err != nil {
		app.ResetBootstrapState()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := app.RefreshSettings(); err != nil {
		app.ResetBootstrapState()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := ensureCollections(app); err != nil {
		app.ResetBootstrapState()
		return nil, fmt.Errorf("failed to ensure collections exist: %w", err)
	}

	logging.For("storage").Info("PocketBase store ready", "dir", dataDir)
	return &PocketBaseStore{app: app}, nil
}

func runMigrations(app *pocketbase.PocketBase) error {
	connections := []struct {
		db   *dbx.DB
		list migrate.MigrationsList
	}{
		{app.DB(), migrations.AppMigrations},
		{app.LogsDB(), logs.LogsMigrations},
	}
	for _, c := range connections {
		runner, err := migrate.NewRunner(c.db, c.list)
		if err != nil {
			return err
		}
		if _, err := runner.Up(); err != nil {
			return err
		}
	}
	return nil
}

func ensureCollections(app *pocketbase.PocketBase) error {
	wanted := []*pbModels.Collection{
		{
			Name: runsCollection,
			Type: pbModels.CollectionTypeBase,
			Schema: schema.NewSchema(
				&schema.SchemaField{Name: "platform", Type: schema.FieldTypeText, Required: true, Options: &schema.TextOptions{}},
				&schema.SchemaField{Name: "run_timestamp", Type: schema.FieldTypeNumber, Required: true, Options: &schema.NumberOptions{NoDecimal: true}},
				&schema.SchemaField{
					Name:     "status",
					Type:     schema.FieldTypeSelect,
					Required: true,
					Options: &schema.SelectOptions{
						MaxSelect: 1,
						Values:    []string{string(models.RunRunning), string(models.RunFinished), string(models.RunFailed)},
					},
				},
				&schema.SchemaField{Name: "keywords", Type: schema.FieldTypeJson, Options: &schema.JsonOptions{MaxSize: maxJSONSize}},
				&schema.SchemaField{Name: "stats", Type: schema.FieldTypeJson, Options: &schema.JsonOptions{MaxSize: maxJSONSize}},
				&schema.SchemaField{Name: "error", Type: schema.FieldTypeText, Options: &schema.TextOptions{}},
				&schema.SchemaField{Name: "started", Type: schema.FieldTypeDate, Options: &schema.DateOptions{}},
				&schema.SchemaField{Name: "finished", Type: schema.FieldTypeDate, Options: &schema.DateOptions{}},
			),
		},
		{
			Name: harvestsCollection,
			Type: pbModels.CollectionTypeBase,
			Schema: schema.NewSchema(
				&schema.SchemaField{Name: "run", Type: schema.FieldTypeText, Options: &schema.TextOptions{}},
				&schema.SchemaField{Name: "platform", Type: schema.FieldTypeText, Required: true, Options: &schema.TextOptions{}},
				&schema.SchemaField{Name: "keyword", Type: schema.FieldTypeText, Options: &schema.TextOptions{}},
				&schema.SchemaField{
					Name:     "category",
					Type:     schema.FieldTypeSelect,
					Required: true,
					Options: &schema.SelectOptions{
						MaxSelect: 1,
						Values:    []string{string(models.CategorySearch), string(models.CategoryListing)},
					},
				},
				&schema.SchemaField{Name: "url", Type: schema.FieldTypeText, Required: true, Options: &schema.TextOptions{}},
				&schema.SchemaField{Name: "run_timestamp", Type: schema.FieldTypeNumber, Options: &schema.NumberOptions{NoDecimal: true}},
				&schema.SchemaField{Name: "data", Type: schema.FieldTypeJson, Options: &schema.JsonOptions{MaxSize: maxJSONSize}},
			),
			Indexes: []string{
				"CREATE INDEX idx_harvests_run ON harvests (run)",
			},
		},
	}

	for _, collection := range wanted {
		if _, err := app.Dao().FindCollectionByNameOrId(collection.Name); err == nil {
			continue
		}
		if err := app.Dao().SaveCollection(collection); err != nil {
			return fmt.Errorf("failed to save collection %s: %w", collection.Name, err)
		}
		logging.For("storage").Info("created collection", "name", collection.Name)
	}
	return nil
}

func (s *PocketBaseStore) SaveHarvest(ctx context.Context, h *models.Harvest) error {
	collection, err := s.app.Dao().FindCollectionByNameOrId(harvestsCollection)
	if err != nil {
		return fmt.Errorf("failed to find collection: %w", err)
	}

	record := pbModels.NewRecord(collection)
	record.Set("run", h.RunID)
	record.Set("platform", h.Platform)
	record.Set("keyword", h.Keyword)
	record.Set("category", string(h.Category))
	record.Set("url", h.URL)
	record.Set("run_timestamp", h.RunTimestamp)
	record.Set("data", h.Data)

	if err := s.app.Dao().SaveRecord(record); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	h.ID = record.Id
	h.Created = record.Created.Time()
	return nil
}

func (s *PocketBaseStore) GetHarvest(ctx context.Context, id string) (*models.Harvest, error) {
	record, err := s.app.Dao().FindRecordById(harvestsCollection, id)
	if err != nil {
		return nil, notFound("harvest", id, err)
	}
	return harvestFromRecord(record)
}

func (s *PocketBaseStore) ListHarvests(ctx context.Context, filter HarvestFilter) ([]models.Harvest, error) {
	collection, err := s.app.Dao().FindCollectionByNameOrId(harvestsCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to find collection: %w", err)
	}

	where := dbx.HashExp{}
	if filter.RunID != "" {
		where["run"] = filter.RunID
	}
	if filter.Platform != "" {
		where["platform"] = filter.Platform
	}
	if filter.Keyword != "" {
		where["keyword"] = filter.Keyword
	}
	if filter.Category != "" {
		where["category"] = string(filter.Category)
	}

	query := s.app.Dao().RecordQuery(collection).WithContext(ctx).OrderBy("created ASC")
	if len(where) > 0 {
		query.AndWhere(where)
	}
	if filter.Limit > 0 {
		query.Limit(int64(filter.Limit))
	}

	var records []*pbModels.Record
	if err := query.All(&records); err != nil {
		return nil, fmt.Errorf("failed to fetch harvests: %w", err)
	}

	harvests := make([]models.Harvest, 0, len(records))
	for _, record := range records {
		h, err := harvestFromRecord(record)
		if err != nil {
			return nil, err
		}
		harvests = append(harvests, *h)
	}
	return harvests, nil
}

// DeleteRunHarvests removes every harvest of a run and returns how many
// were deleted
func (s *PocketBaseStore) DeleteRunHarvests(ctx context.Context, runID string) (int64, error) {
	res, err := s.app.Dao().DB().Delete(harvestsCollection, dbx.HashExp{"run": runID}).WithContext(ctx).Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to delete harvests of run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted harvests: %w", err)
	}
	return n, nil
}

func (s *PocketBaseStore) CreateRun(ctx context.Context, run *models.CrawlRun) error {
	collection, err := s.app.Dao().FindCollectionByNameOrId(runsCollection)
	if err != nil {
		return fmt.Errorf("failed to find collection: %w", err)
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	if run.Started.IsZero() {
		run.Started = time.Now().UTC()
	}

	record := pbModels.NewRecord(collection)
	setRunFields(record, run)
	if err := s.app.Dao().SaveRecord(record); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	run.ID = record.Id
	return nil
}

// FinishRun stores the final status and stats of a run
func (s *PocketBaseStore) FinishRun(ctx context.Context, run *models.CrawlRun) error {
	if err := models.ValidateStatus(run.Status); err != nil {
		return err
	}
	record, err := s.app.Dao().FindRecordById(runsCollection, run.ID)
	if err != nil {
		return notFound("run", run.ID, err)
	}
	if run.Finished.IsZero() {
		run.Finished = time.Now().UTC()
	}
	setRunFields(record, run)
	if err := s.app.Dao().SaveRecord(record); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

func (s *PocketBaseStore) GetRun(ctx context.Context, id string) (*models.CrawlRun, error) {
	record, err := s.app.Dao().FindRecordById(runsCollection, id)
	if err != nil {
		return nil, notFound("run", id, err)
	}
	return runFromRecord(record)
}

// ListRuns returns runs, newest first, optionally for one platform
func (s *PocketBaseStore) ListRuns(ctx context.Context, platformName string) ([]models.CrawlRun, error) {
	collection, err := s.app.Dao().FindCollectionByNameOrId(runsCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to find collection: %w", err)
	}

	query := s.app.Dao().RecordQuery(collection).WithContext(ctx).OrderBy("started DESC")
	if platformName != "" {
		query.AndWhere(dbx.HashExp{"platform": platformName})
	}

	var records []*pbModels.Record
	if err := query.All(&records); err != nil {
		return nil, fmt.Errorf("failed to fetch runs: %w", err)
	}

	runs := make([]models.CrawlRun, 0, len(records))
	for _, record := range records {
		run, err := runFromRecord(record)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// Close releases the database connections
func (s *PocketBaseStore) Close() error {
	return s.app.ResetBootstrapState()
}

func (s *PocketBaseStore) GetPocketBase() *pocketbase.PocketBase {
	return s.app
}

func setRunFields(record *pbModels.Record, run *models.CrawlRun) {
	record.Set("platform", run.Platform)
	record.Set("run_timestamp", run.RunTimestamp)
	record.Set("status", string(run.Status))
	record.Set("keywords", run.Keywords)
	record.Set("stats", run.Stats)
	record.Set("error", run.Error)
	record.Set("started", run.Started)
	if !run.Finished.IsZero() {
		record.Set("finished", run.Finished)
	}
}

func runFromRecord(record *pbModels.Record) (*models.CrawlRun, error) {
	run := &models.CrawlRun{
		ID:           record.Id,
		Platform:     record.GetString("platform"),
		RunTimestamp: int64(record.GetInt("run_timestamp")),
		Status:       models.RunStatus(record.GetString("status")),
		Error:        record.GetString("error"),
		Started:      record.GetDateTime("started").Time(),
		Finished:     record.GetDateTime("finished").Time(),
	}
	if err := unmarshalJSONField(record, "keywords", &run.Keywords); err != nil {
		return nil, err
	}
	if err := unmarshalJSONField(record, "stats", &run.Stats); err != nil {
		return nil, err
	}
	return run, nil
}

func harvestFromRecord(record *pbModels.Record) (*models.Harvest, error) {
	h := &models.Harvest{
		ID:           record.Id,
		RunID:        record.GetString("run"),
		Platform:     record.GetString("platform"),
		Keyword:      record.GetString("keyword"),
		Category:     models.PageCategory(record.GetString("category")),
		URL:          record.GetString("url"),
		RunTimestamp: int64(record.GetInt("run_timestamp")),
		Created:      record.Created.Time(),
	}
	if err := unmarshalJSONField(record, "data", &h.Data); err != nil {
		return nil, err
	}
	return h, nil
}

// unmarshalJSONField leaves dst untouched when the field was never set
func unmarshalJSONField(record *pbModels.Record, key string, dst any) error {
	if record.GetString(key) == "" {
		return nil
	}
	if err := record.UnmarshalJSONField(key, dst); err != nil {
		return fmt.Errorf("failed to decode %s of %s: %w", key, record.Id, err)
	}
	return nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return fmt.Errorf("failed to find %s %s: %w", kind, id, err)
}
