// Package sqlstore keeps a copy of the content tree in SQLite, for deployments
// that want the served content inspectable with ordinary SQL tooling.
package sqlstore

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

	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/sqlstore/migrations"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// ErrEmpty is returned by Load when nothing has been imported yet.
var ErrEmpty = errors.New("sqlstore: no imported content")

type Options struct {
	// Dir holds content.db. Required.
	Dir    string
	Logger log.Logger
}

type Store struct {
	db     *sql.DB
	path   string
	logger log.Logger
}

func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, xerrors.New("sqlstore: Dir is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, xerrors.Wrapf(err, "sqlstore: create %s", opts.Dir)
	}

	dbPath := filepath.Join(opts.Dir, "content.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, xerrors.Wrapf(err, "sqlstore: open %s", dbPath)
	}

	s := &Store{db: db, path: dbPath, logger: opts.Logger}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, xerrors.Wrap(err, "sqlstore: migrate")
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }

// migrate applies NNN_name.up.sql files newer than the recorded schema version.
func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return xerrors.Wrap(err, "sqlstore: create schema_migrations table")
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return xerrors.Wrap(err, "sqlstore: read schema version")
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return xerrors.Wrap(err, "sqlstore: list migrations")
	}
	var ups []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	for _, name := range ups {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		stmt, err := fs.ReadFile(fsys, name)
		if err != nil {
			return xerrors.Wrapf(err, "sqlstore: read migration %s", name)
		}
		if _, err := s.db.Exec(string(stmt)); err != nil {
			return xerrors.Wrapf(err, "sqlstore: apply migration %s", name)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return xerrors.Wrapf(err, "sqlstore: record migration %s", name)
		}
	}
	return nil
}

// Import replaces the stored content with snap in one transaction.
func (s *Store) Import(ctx context.Context, snap *content.Snapshot) error {
	if snap == nil || snap.Tree == nil {
		return xerrors.New("sqlstore: import of empty snapshot")
	}
	meta, err := json.Marshal(snap.Meta)
	if err != nil {
		return xerrors.Wrap(err, "sqlstore: encode meta")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(err, "sqlstore: begin import")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return xerrors.Wrap(err, "sqlstore: clear items")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (path, parent_path, position, id, display_name, type, data,
			menu_item, menu_name, new_window, child_order, modified_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return xerrors.Wrap(err, "sqlstore: prepare insert")
	}
	defer stmt.Close()

	items := snap.Tree.Items()
	for pos, it := range items {
		data, err := json.Marshal(it.Data)
		if err != nil {
			return xerrors.Wrapf(err, "sqlstore: encode data of %s", it.Path)
		}
		var parent any
		if !it.Path.IsRoot() {
			parent = it.Path.Parent().String()
		}
		if _, err := stmt.ExecContext(ctx,
			it.Path.String(), parent, pos, it.ID, it.DisplayName, it.Type, string(data),
			boolToInt(it.Menu.MenuItem), it.Menu.MenuName, boolToInt(it.Menu.NewWindow),
			it.ChildOrder, formatNullableTime(it.ModifiedTime),
		); err != nil {
			return xerrors.Wrapf(err, "sqlstore: insert %s", it.Path)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot (id, site, meta, imported_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET site = excluded.site, meta = excluded.meta, imported_at = excluded.imported_at
	`, snap.Site.String(), string(meta), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return xerrors.Wrap(err, "sqlstore: write snapshot")
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(err, "sqlstore: commit import")
	}

	s.logger.Info(ctx, "content imported into sqlstore",
		"items", len(items),
		"hash", snap.Meta.Hash,
	)
	return nil
}

func (s *Store) Exists(ctx context.Context, p contentpath.Path) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM items WHERE path = ?", p.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const itemColumns = `path, id, display_name, type, data, menu_item, menu_name, new_window, child_order, modified_time`

// GetByPath returns content.ErrNotFound when p was not imported.
func (s *Store) GetByPath(ctx context.Context, p contentpath.Path) (content.Item, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE path = ?", p.String())
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Item{}, content.ErrNotFound
	}
	return it, err
}

// Children returns the children of parent in the parent's child order.
func (s *Store) Children(ctx context.Context, parent contentpath.Path) ([]content.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE parent_path = ? ORDER BY position", parent.String())
	if err != nil {
		return nil, err
	}
	out, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	var childOrder string
	err = s.db.QueryRowContext(ctx, "SELECT child_order FROM items WHERE path = ?", parent.String()).Scan(&childOrder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	content.SortChildren(out, childOrder)
	return out, nil
}

// Load rebuilds the last imported snapshot. Returns ErrEmpty before the first Import.
func (s *Store) Load(ctx context.Context) (*content.Snapshot, error) {
	var site, metaJSON string
	err := s.db.QueryRowContext(ctx, "SELECT site, meta FROM snapshot WHERE id = 1").Scan(&site, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "sqlstore: read snapshot")
	}

	var meta content.Meta
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, xerrors.Wrap(err, "sqlstore: decode meta")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM items ORDER BY position")
	if err != nil {
		return nil, xerrors.Wrap(err, "sqlstore: read items")
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, xerrors.Wrap(err, "sqlstore: read items")
	}

	tree, err := content.NewTree(items)
	if err != nil {
		return nil, xerrors.Wrap(err, "sqlstore: rebuild tree")
	}
	sitePath, err := contentpath.Parse(site)
	if err != nil {
		return nil, xerrors.Wrap(err, "sqlstore: site")
	}
	return &content.Snapshot{Tree: tree, Site: sitePath, Meta: meta}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (content.Item, error) {
	var (
		path, id, displayName, typ, data, menuName, childOrder string
		menuItem, newWindow                                    int
		modified                                               sql.NullString
	)
	if err := row.Scan(&path, &id, &displayName, &typ, &data, &menuItem, &menuName, &newWindow, &childOrder, &modified); err != nil {
		return content.Item{}, err
	}
	p, err := contentpath.Parse(path)
	if err != nil {
		return content.Item{}, xerrors.Wrapf(err, "sqlstore: stored path %q", path)
	}
	it := content.Item{
		ID:          id,
		Path:        p,
		DisplayName: displayName,
		Type:        typ,
		Menu: content.MenuSettings{
			MenuItem:  menuItem != 0,
			MenuName:  menuName,
			NewWindow: newWindow != 0,
		},
		ChildOrder:   childOrder,
		ModifiedTime: parseNullableTime(modified),
	}
	if data != "" && data != "null" {
		if err := json.Unmarshal([]byte(data), &it.Data); err != nil {
			return content.Item{}, xerrors.Wrapf(err, "sqlstore: decode data of %s", path)
		}
	}
	return it, nil
}

func scanItems(rows *sql.Rows) ([]content.Item, error) {
	defer rows.Close()
	out := []content.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
