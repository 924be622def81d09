package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"github.com/zeka-hazinesi/jobboard-data/internal/config"
	"github.com/zeka-hazinesi/jobboard-data/internal/harvest"
	"github.com/zeka-hazinesi/jobboard-data/pkg/types"
)

// RelationalStore persists harvested listings into a SQL database.
type RelationalStore interface {
	SaveListings(ctx context.Context, report types.HarvestReport) error
}

// Pipeline fans harvest reports out to the JSON document sink and an
// optional relational store. The JSON document is written unconditionally,
// even for aborted runs, so partial results are never lost.
type Pipeline struct {
	documents  *JSONWriter
	relational RelationalStore
}

// NewPipeline constructs a storage pipeline. The document writer is
// mandatory; the relational store may be nil.
func NewPipeline(documents *JSONWriter, relational RelationalStore) *Pipeline {
	return &Pipeline{documents: documents, relational: relational}
}

// Persist stores the harvest report in the configured sinks.
func (p *Pipeline) Persist(ctx context.Context, report types.HarvestReport) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.documents != nil {
		if err := p.documents.Write(report); err != nil {
			errs = append(errs, fmt.Errorf("document sink: %w", err))
		}
	}
	if p.relational != nil {
		if err := p.relational.SaveListings(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("relational store: %w", err))
		}
	}
	return errors.Join(errs...)
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\s]+`)

// JSONWriter writes one JSON document per source into a directory.
type JSONWriter struct {
	dir    string
	indent bool
}

// NewJSONWriter creates the output directory if needed.
func NewJSONWriter(cfg config.OutputConfig) (*JSONWriter, error) {
	if strings.TrimSpace(cfg.Directory) == "" {
		return nil, errors.New("output directory not set")
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &JSONWriter{dir: cfg.Directory, indent: cfg.Indent}, nil
}

// Write serialises the report's records as an array of objects under
// <dir>/<source>_jobs.json, replacing any previous run's document.
func (w *JSONWriter) Write(report types.HarvestReport) error {
	var (
		data []byte
		err  error
	)
	records := report.Records
	if records == nil {
		records = []types.ListingRecord{}
	}
	if w.indent {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	path := w.Path(report.Source)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// Path reports where a source's document lands.
func (w *JSONWriter) Path(source string) string {
	return filepath.Join(w.dir, safeName(source)+"_jobs.json")
}

// safeName makes a source name usable as a filename.
func safeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown_source"
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// SQLWriter is a relational sink backed by database/sql.
type SQLWriter struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLWriter initialises a SQLWriter from configuration.
func NewSQLWriter(cfg config.SQLConfig) (*SQLWriter, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	writer := &SQLWriter{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := writer.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return writer, nil
}

// SaveListings upserts every record of the report into the listings table.
func (s *SQLWriter) SaveListings(ctx context.Context, report types.HarvestReport) error {
	if s == nil || s.db == nil {
		return nil
	}
	for _, rec := range report.Records {
		if err := s.upsertListing(ctx, report, rec); err != nil {
			if s.autoMigrate && isUndefinedTableErr(err) {
				if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
					return fmt.Errorf("ensure schema: %w", schemaErr)
				}
				if retryErr := s.upsertListing(ctx, report, rec); retryErr != nil {
					return fmt.Errorf("insert listing: %w", retryErr)
				}
				continue
			}
			return fmt.Errorf("insert listing: %w", err)
		}
	}
	return nil
}

func (s *SQLWriter) upsertListing(ctx context.Context, report types.HarvestReport, rec types.ListingRecord) error {
	query := `
        INSERT INTO listings (source, identity_key, title, detail_url, location, category,
                              workload, contract_type, posted_at, source_offset, run_id, harvested_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (source, identity_key) DO UPDATE SET
            title = EXCLUDED.title,
            detail_url = EXCLUDED.detail_url,
            location = EXCLUDED.location,
            category = EXCLUDED.category,
            workload = EXCLUDED.workload,
            contract_type = EXCLUDED.contract_type,
            posted_at = EXCLUDED.posted_at,
            source_offset = EXCLUDED.source_offset,
            run_id = EXCLUDED.run_id,
            harvested_at = EXCLUDED.harvested_at
    `
	_, err := s.db.ExecContext(ctx, query,
		report.Source,
		harvest.IdentityKey(rec),
		rec.Title,
		rec.DetailURL,
		rec.Location,
		rec.Category,
		rec.Workload,
		rec.ContractType,
		rec.PostedAt,
		rec.SourceOffset,
		report.RunID,
		report.FinishedAt,
	)
	return err
}

// Close closes the underlying DB connection.
func (s *SQLWriter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func (s *SQLWriter) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS listings (
		    source TEXT NOT NULL,
		    identity_key TEXT NOT NULL,
		    title TEXT NOT NULL,
		    detail_url TEXT,
		    location TEXT,
		    category TEXT,
		    workload TEXT,
		    contract_type TEXT,
		    posted_at TEXT,
		    source_offset INT,
		    run_id TEXT,
		    harvested_at TIMESTAMPTZ,
		    PRIMARY KEY (source, identity_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_harvested_at ON listings (harvested_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
