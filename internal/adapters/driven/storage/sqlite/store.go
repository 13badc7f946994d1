package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/cache"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/transfer"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.SeriesIndex = (*Store)(nil)

// DefaultIndex is the index name used when none is configured.
const DefaultIndex = "dicom"

// Config holds configuration for the log index.
type Config struct {
	// Path is the database file (default: ~/.dixelkit/data/logindex.db).
	Path string

	// Index names the partition rows are written to and read from.
	Index string

	CachePolicy domain.CachePolicy
	CacheDir    string
}

// Store is a SQLite-backed log index.
type Store struct {
	db     *sql.DB
	path   string
	index  string
	cache  *cache.Cache
	matrix *transfer.Matrix
	log    *logger.Logger
}

// NewStore opens (creating if needed) the log index database.
func NewStore(cfg Config, matrix *transfer.Matrix, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Discard()
	}

	dbPath := cfg.Path
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".dixelkit", "data", "logindex.db")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	cachePath := ""
	if cfg.CacheDir != "" {
		cachePath = filepath.Join(cfg.CacheDir, cache.FileName("", "", "sqlite://"+dbPath))
	}
	c, err := cache.New(cachePath, cfg.CachePolicy, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}

	s := &Store{
		db:     db,
		path:   dbPath,
		index:  index,
		cache:  c,
		matrix: matrix,
		log:    log,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	c.Register(cache.KeyInventory, s.initializeInventory)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Kind returns domain.KindLogIndex.
func (s *Store) Kind() domain.StoreKind {
	return domain.KindLogIndex
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_log_index.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}
		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("starting migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.log.Debug("Applied migration %s", name)
	}

	return nil
}

// Put indexes d's tags and meta, replacing any earlier row with the same id.
// Every level is accepted.
func (s *Store) Put(ctx context.Context, d *domain.Dixel) (domain.Result, error) {
	if d.ID == "" {
		return domain.Failed("put", "", 0, "empty id"), fmt.Errorf("%w: dixel has no id", domain.ErrInvalidInput)
	}

	tagsJSON, err := json.Marshal(nonNil(d.Tags))
	if err != nil {
		return domain.Failed("put", d.ID, 0, err.Error()), fmt.Errorf("marshalling tags: %w", err)
	}
	metaJSON, err := json.Marshal(nonNil(d.Meta))
	if err != nil {
		return domain.Failed("put", d.ID, 0, err.Error()), fmt.Errorf("marshalling meta: %w", err)
	}

	var studyTime sql.NullInt64
	if t, ok := StudyTime(d.Lookup(domain.TagStudyDate), d.Lookup(domain.TagStudyTime)); ok {
		studyTime = sql.NullInt64{Int64: t.Unix(), Valid: true}
	}
	seriesID := ""
	if d.Lookup(domain.TagSeriesInstanceUID) != "" {
		seriesID = domain.OrthancID(d.Lookup(domain.TagPatientID), d.Lookup(domain.TagStudyInstanceUID),
			d.Lookup(domain.TagSeriesInstanceUID), "")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dixels (id, level, idx, patient_id, accession_number, series_id,
			series_description, study_time, tags, meta, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			level = excluded.level,
			idx = excluded.idx,
			patient_id = excluded.patient_id,
			accession_number = excluded.accession_number,
			series_id = excluded.series_id,
			series_description = excluded.series_description,
			study_time = excluded.study_time,
			tags = excluded.tags,
			meta = excluded.meta,
			indexed_at = CURRENT_TIMESTAMP
	`, d.ID, d.Level.String(), s.index, d.Lookup(domain.TagPatientID), d.Lookup(domain.TagAccessionNumber),
		seriesID, d.Lookup(domain.TagSeriesDescription), studyTime, string(tagsJSON), string(metaJSON))
	if err != nil {
		return domain.Failed("put", d.ID, 0, err.Error()), fmt.Errorf("indexing %s: %w", d, err)
	}

	s.InvalidateInventory()
	return domain.Succeeded("put", d.ID, 0), nil
}

// Get returns the indexed record for d's id.
func (s *Store) Get(ctx context.Context, d *domain.Dixel, _ driven.GetOptions) (*domain.Dixel, error) {
	out, err := s.load(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s not indexed", domain.ErrNotFound, d)
	}
	return out, nil
}

// Update returns the indexed record, or nil if d was never indexed.
func (s *Store) Update(ctx context.Context, d *domain.Dixel) (*domain.Dixel, error) {
	return s.load(ctx, d.ID)
}

func (s *Store) load(ctx context.Context, id string) (*domain.Dixel, error) {
	var level, tagsJSON, metaJSON string
	err := s.db.QueryRowContext(ctx, "SELECT level, tags, meta FROM dixels WHERE id = ?", id).
		Scan(&level, &tagsJSON, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", id, err)
	}

	lvl, err := domain.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	d := domain.NewDixel(id, lvl)
	if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &d.Meta); err != nil {
		return nil, fmt.Errorf("unmarshalling meta: %w", err)
	}
	return d, nil
}

// Delete removes d's row. A missing row is a failed result.
func (s *Store) Delete(ctx context.Context, d *domain.Dixel) (domain.Result, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM dixels WHERE id = ?", d.ID)
	if err != nil {
		return domain.Failed("delete", d.ID, 0, err.Error()), fmt.Errorf("deleting %s: %w", d, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Failed("delete", d.ID, 0, err.Error()), fmt.Errorf("deleting %s: %w", d, err)
	}
	if n == 0 {
		return domain.Failed("delete", d.ID, 0, "not indexed"), nil
	}

	s.InvalidateInventory()
	return domain.Succeeded("delete", d.ID, 0), nil
}

// Copy dispatches through the transfer matrix.
func (s *Store) Copy(ctx context.Context, d *domain.Dixel, dest driven.Store) (domain.Result, error) {
	return s.matrix.Copy(ctx, s, d, dest)
}

// Inventory returns every indexed dixel (ids and levels only).
func (s *Store) Inventory(ctx context.Context) (domain.Set, error) {
	return s.cache.Get(ctx, cache.KeyInventory)
}

// InvalidateInventory drops the cached inventory.
func (s *Store) InvalidateInventory() {
	s.cache.Invalidate(cache.KeyInventory)
}

func (s *Store) initializeInventory(ctx context.Context) (domain.Set, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, level FROM dixels WHERE idx = ?", s.index)
	if err != nil {
		return nil, fmt.Errorf("listing dixels: %w", err)
	}
	defer rows.Close()

	set := domain.NewSet()
	for rows.Next() {
		var id, level string
		if err := rows.Scan(&id, &level); err != nil {
			return nil, fmt.Errorf("scanning dixel: %w", err)
		}
		lvl, err := domain.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		set.Add(domain.NewDixel(id, lvl))
	}
	return set, rows.Err()
}

// FindSeries returns distinct series for a patient whose description
// matches a glob and whose study time falls in the query window, ordered
// by study time. Zero window bounds are open.
func (s *Store) FindSeries(ctx context.Context, q domain.SeriesQuery) ([]domain.SeriesMatch, error) {
	index := q.Index
	if index == "" {
		index = s.index
	}

	query := `
		SELECT series_id, MAX(accession_number), MAX(series_description), MIN(study_time)
		FROM dixels
		WHERE idx = ? AND patient_id = ? AND series_id != ''`
	args := []any{index, q.PatientID}

	if q.Description != "" && q.Description != "*" {
		query += ` AND series_description LIKE ? ESCAPE '\'`
		args = append(args, GlobToLike(q.Description))
	}
	if !q.Earliest.IsZero() {
		query += " AND study_time >= ?"
		args = append(args, q.Earliest.Unix())
	}
	if !q.Latest.IsZero() {
		query += " AND study_time <= ?"
		args = append(args, q.Latest.Unix())
	}
	query += " GROUP BY series_id ORDER BY MIN(study_time), series_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding series: %w", err)
	}
	defer rows.Close()

	var matches []domain.SeriesMatch
	for rows.Next() {
		var m domain.SeriesMatch
		var studyTime sql.NullInt64
		if err := rows.Scan(&m.ID, &m.AccessionNumber, &m.SeriesDescription, &studyTime); err != nil {
			return nil, fmt.Errorf("scanning series: %w", err)
		}
		if studyTime.Valid {
			m.StudyTime = time.Unix(studyTime.Int64, 0)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// GlobToLike converts a shell-style glob (* and ?) to a LIKE pattern
// escaped with a backslash.
func GlobToLike(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StudyTime combines DICOM StudyDate (YYYYMMDD) and StudyTime
// (HHMMSS[.frac], possibly truncated) in local time.
func StudyTime(date, clock string) (time.Time, bool) {
	if len(date) != 8 {
		return time.Time{}, false
	}
	if i := strings.IndexByte(clock, '.'); i >= 0 {
		clock = clock[:i]
	}
	clock = (clock + "000000")[:6]
	t, err := time.ParseInLocation("20060102150405", date+clock, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
