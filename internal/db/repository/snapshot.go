package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"statflow/internal/db"
	"statflow/internal/domain"
)

// SnapshotRepo persists one metadata snapshot as a SQLite file. Save builds
// the replacement in a sibling temp file and renames it over the target, so
// readers only ever observe a complete snapshot.
type SnapshotRepo struct {
	path string
	mu   sync.Mutex
}

var _ domain.SnapshotRepository = (*SnapshotRepo)(nil)

// NewSnapshotRepo creates a repository for the file at path.
func NewSnapshotRepo(path string) *SnapshotRepo {
	return &SnapshotRepo{path: path}
}

// Path returns the snapshot file location.
func (r *SnapshotRepo) Path() string { return r.path }

// Save atomically replaces the persisted snapshot with c.
func (r *SnapshotRepo) Save(ctx context.Context, c *domain.Catalog) (err error) {
	if c == nil {
		return domain.ErrValidation("snapshot catalog is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp-%s", r.path, uuid.NewString())
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err := writeSnapshotFile(ctx, tmp, c); err != nil {
		return err
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	return nil
}

func writeSnapshotFile(ctx context.Context, path string, c *domain.Catalog) error {
	conn, err := db.OpenSQLite(path, "write", 0)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := db.RunMigrations(conn); err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertCatalog(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return conn.Close()
}

func insertCatalog(ctx context.Context, tx *sql.Tx, c *domain.Catalog) error {
	h := c.Header
	if h.FormatVersion == 0 {
		h.FormatVersion = domain.SnapshotFormatVersion
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_header (id, format_version, sync_id, synced_at, source) VALUES (1, ?, ?, ?, ?)`,
		h.FormatVersion, h.SyncID, h.SyncedAt.UTC().Format(time.RFC3339Nano), h.Source,
	); err != nil {
		return fmt.Errorf("insert header: %w", err)
	}

	counts := map[string]int{
		domain.CategoryIndicators: len(c.Indicators),
		domain.CategoryDataflows:  len(c.Dataflows),
		domain.CategoryCountries:  len(c.Countries),
		domain.CategoryRegions:    len(c.Regions),
	}
	for category, n := range counts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_counts (category, records) VALUES (?, ?)`, category, n,
		); err != nil {
			return fmt.Errorf("insert count %s: %w", category, err)
		}
	}

	for _, ind := range c.Indicators {
		tier, err := ind.Tier.MarshalText()
		if err != nil {
			return fmt.Errorf("indicator %s: %w", ind.Code, err)
		}
		disagg, err := jsonColumn(nonNil(ind.SupportedDisaggregations))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO indicators (code, display_name, description, category, dataflow_hint, tier, supported_disaggregations)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ind.Code, ind.DisplayName, ind.Description, ind.Category, ind.DataflowHint, string(tier), disagg,
		); err != nil {
			return fmt.Errorf("insert indicator %s: %w", ind.Code, err)
		}
	}

	for _, df := range c.Dataflows {
		dims, err := jsonColumn(df.Dimensions)
		if err != nil {
			return err
		}
		attrs, err := jsonColumn(nonNil(df.Attributes))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dataflows (id, agency, version, name, dimensions, attributes) VALUES (?, ?, ?, ?, ?, ?)`,
			df.ID, df.Agency, df.Version, df.Name, dims, attrs,
		); err != nil {
			return fmt.Errorf("insert dataflow %s: %w", df.ID, err)
		}
	}

	for category, entries := range map[string][]domain.CodeEntry{
		domain.CategoryCountries: c.Countries,
		domain.CategoryRegions:   c.Regions,
	} {
		for i, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO codes (category, id, name, description, parent, ordinal) VALUES (?, ?, ?, ?, ?, ?)`,
				category, e.ID, e.Name, e.Description, e.Parent, i,
			); err != nil {
				return fmt.Errorf("insert %s code %s: %w", category, e.ID, err)
			}
		}
	}
	return nil
}

// Load reads the persisted snapshot fully into memory. It returns a
// *domain.NotFoundError when no snapshot has been saved.
func (r *SnapshotRepo) Load(ctx context.Context) (*domain.Catalog, error) {
	if _, err := os.Stat(r.path); errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound("no metadata snapshot at %s", r.path)
	}

	conn, err := db.OpenSQLite(r.path, "read", 1)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	c := &domain.Catalog{}
	if err := loadHeader(ctx, conn, c); err != nil {
		return nil, err
	}
	if c.Header.FormatVersion > domain.SnapshotFormatVersion {
		return nil, fmt.Errorf("snapshot format version %d is newer than supported version %d",
			c.Header.FormatVersion, domain.SnapshotFormatVersion)
	}
	if c.Indicators, err = loadIndicators(ctx, conn); err != nil {
		return nil, err
	}
	if c.Dataflows, err = loadDataflows(ctx, conn); err != nil {
		return nil, err
	}
	if c.Countries, err = loadCodes(ctx, conn, domain.CategoryCountries); err != nil {
		return nil, err
	}
	if c.Regions, err = loadCodes(ctx, conn, domain.CategoryRegions); err != nil {
		return nil, err
	}
	return c, nil
}

func loadHeader(ctx context.Context, conn *sql.DB, c *domain.Catalog) error {
	var syncedAt string
	err := conn.QueryRowContext(ctx,
		`SELECT format_version, sync_id, synced_at, source FROM snapshot_header WHERE id = 1`,
	).Scan(&c.Header.FormatVersion, &c.Header.SyncID, &syncedAt, &c.Header.Source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound("metadata snapshot has no header")
		}
		return fmt.Errorf("read header: %w", mapDBError(err))
	}
	if c.Header.SyncedAt, err = time.Parse(time.RFC3339Nano, syncedAt); err != nil {
		return fmt.Errorf("parse synced_at: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT category, records FROM snapshot_counts`)
	if err != nil {
		return fmt.Errorf("read counts: %w", err)
	}
	defer rows.Close()
	c.Header.Counts = make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return fmt.Errorf("scan count: %w", err)
		}
		c.Header.Counts[category] = n
	}
	return rows.Err()
}

func loadIndicators(ctx context.Context, conn *sql.DB) ([]domain.IndicatorMetadata, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT code, display_name, description, category, dataflow_hint, tier, supported_disaggregations
		 FROM indicators ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("read indicators: %w", err)
	}
	defer rows.Close()

	var out []domain.IndicatorMetadata
	for rows.Next() {
		var m domain.IndicatorMetadata
		var tier, disagg string
		if err := rows.Scan(&m.Code, &m.DisplayName, &m.Description, &m.Category, &m.DataflowHint, &tier, &disagg); err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		if err := m.Tier.UnmarshalText([]byte(tier)); err != nil {
			return nil, fmt.Errorf("indicator %s: %w", m.Code, err)
		}
		if err := fromJSONColumn(disagg, &m.SupportedDisaggregations); err != nil {
			return nil, fmt.Errorf("indicator %s: %w", m.Code, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func loadDataflows(ctx context.Context, conn *sql.DB) ([]domain.DataflowDescriptor, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, agency, version, name, dimensions, attributes FROM dataflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read dataflows: %w", err)
	}
	defer rows.Close()

	var out []domain.DataflowDescriptor
	for rows.Next() {
		var df domain.DataflowDescriptor
		var dims, attrs string
		if err := rows.Scan(&df.ID, &df.Agency, &df.Version, &df.Name, &dims, &attrs); err != nil {
			return nil, fmt.Errorf("scan dataflow: %w", err)
		}
		if err := fromJSONColumn(dims, &df.Dimensions); err != nil {
			return nil, fmt.Errorf("dataflow %s: %w", df.ID, err)
		}
		if err := fromJSONColumn(attrs, &df.Attributes); err != nil {
			return nil, fmt.Errorf("dataflow %s: %w", df.ID, err)
		}
		out = append(out, df)
	}
	return out, rows.Err()
}

func loadCodes(ctx context.Context, conn *sql.DB, category string) ([]domain.CodeEntry, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, name, description, parent FROM codes WHERE category = ? ORDER BY ordinal`, category)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", category, err)
	}
	defer rows.Close()

	var out []domain.CodeEntry
	for rows.Next() {
		var e domain.CodeEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.Parent); err != nil {
			return nil, fmt.Errorf("scan %s code: %w", category, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
