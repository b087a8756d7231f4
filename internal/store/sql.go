package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"sre-platform/internal/models"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// dialect captures the differences between the SQL backends. Queries are
// written with ? placeholders and rebound per dialect.
type dialect struct {
	name      string
	schema    string
	numbered  bool
	forUpdate string
	// text renders a JSON field as text for equality filters.
	text func(field string) (string, []any)
	// value renders a JSON field with its JSON ordering for sorting.
	value func(field string) (string, []any)
	// hasSearchColumn counts search_text in the documents table.
	hasSearchColumn string
	unique          func(err error) bool
}

var postgresDialect = dialect{
	name:      "postgres",
	schema:    postgresSchema,
	numbered:  true,
	forUpdate: " FOR UPDATE",
	text: func(field string) (string, []any) {
		return "data->>?::text", []any{field}
	},
	value: func(field string) (string, []any) {
		return "data->?::text", []any{field}
	},
	hasSearchColumn: "SELECT COUNT(*) FROM information_schema.columns " +
		"WHERE table_schema = current_schema() AND table_name = 'documents' AND column_name = 'search_text'",
	unique: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
	text: func(field string) (string, []any) {
		path := "$." + field
		return "(CASE json_type(data, ?) WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' " +
			"ELSE CAST(json_extract(data, ?) AS TEXT) END)", []any{path, path}
	},
	value: func(field string) (string, []any) {
		return "json_extract(data, ?)", []any{"$." + field}
	},
	hasSearchColumn: "SELECT COUNT(*) FROM pragma_table_info('documents') WHERE name = 'search_text'",
	unique: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLStore{db: db, d: postgresDialect, now: time.Now}, nil
}

// NewSQLiteStore opens a SQLite database file, or a private in-memory
// database for ":memory:".
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: alive.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLStore{db: db, d: sqliteDialect, now: time.Now}, nil
}

// Migrate creates tables if they don't exist and adds the search column to
// databases created before it.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.d.hasSearchColumn).Scan(&n); err != nil {
		return fmt.Errorf("inspect documents table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE documents ADD COLUMN search_text TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("add search column: %w", err)
	}
	return s.reindexSearch(ctx)
}

// reindexSearch rebuilds search_text for every stored document.
func (s *SQLStore) reindexSearch(ctx context.Context) error {
	type row struct {
		collection, id, text string
	}
	rows, err := s.db.QueryContext(ctx, "SELECT collection, id, data FROM documents")
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	var pending []row
	for rows.Next() {
		var r row
		var raw []byte
		if err := rows.Scan(&r.collection, &r.id, &raw); err != nil {
			rows.Close()
			return err
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			rows.Close()
			return err
		}
		r.text = searchText(doc)
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range pending {
		if _, err := s.db.ExecContext(ctx,
			s.rebind("UPDATE documents SET search_text = ? WHERE collection = ? AND id = ?"),
			r.text, r.collection, r.id,
		); err != nil {
			return fmt.Errorf("reindex %s/%s: %w", r.collection, r.id, err)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encodeDocument(doc models.Document) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func decodeDocument(raw []byte) (models.Document, error) {
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(foldSearch(search)) + "%"
}

func (s *SQLStore) List(ctx context.Context, collection string, p models.ListParams) (models.ListResult, error) {
	p = p.Normalized()

	where := []string{"collection = ?"}
	args := []any{collection}
	for field, want := range p.Filters {
		if err := checkField(field); err != nil {
			return models.ListResult{}, err
		}
		expr, exprArgs := s.d.text(field)
		where = append(where, expr+" = ?")
		args = append(args, exprArgs...)
		args = append(args, want)
	}
	if p.Search != "" {
		where = append(where, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(p.Search))
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM documents"+clause), args...).Scan(&total); err != nil {
		return models.ListResult{}, fmt.Errorf("count %s: %w", collection, err)
	}

	field, desc, err := sortKey(p.Sort)
	if err != nil {
		return models.ListResult{}, err
	}
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	var order string
	switch field {
	case "created_at", "updated_at":
		order = field + dir
	default:
		expr, exprArgs := s.d.value(field)
		order = expr + dir
		args = append(args, exprArgs...)
	}
	query := "SELECT data FROM documents" + clause + " ORDER BY " + order + ", id ASC"
	if p.PageSize > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, p.PageSize, p.Offset())
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return models.ListResult{}, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	items := []models.Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return models.ListResult{}, err
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return models.ListResult{}, err
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return models.ListResult{}, err
	}
	return models.NewListResult(items, p, total), nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (models.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT data FROM documents WHERE collection = ? AND id = ?"),
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(raw)
}

func (s *SQLStore) Create(ctx context.Context, collection string, doc models.Document) (models.Document, error) {
	now := s.now()
	doc = prepareCreate(collection, doc, now)
	data, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind("INSERT INTO documents (collection, id, data, search_text, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"),
		collection, doc.ID(), data, searchText(doc), stampValue(doc, "created_at", now), stampValue(doc, "updated_at", now),
	)
	if s.d.unique(err) {
		return nil, fmt.Errorf("%s/%s: %w", collection, doc.ID(), ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}
	return doc, nil
}

func (s *SQLStore) Update(ctx context.Context, collection, id string, patch models.Document) (models.Document, error) {
	return s.Mutate(ctx, collection, id, func(doc models.Document) error {
		doc.Merge(patch.Clone())
		return nil
	})
}

func (s *SQLStore) Mutate(ctx context.Context, collection, id string, fn func(models.Document) error) (models.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		s.rebind("SELECT data FROM documents WHERE collection = ? AND id = ?"+s.d.forUpdate),
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	prev, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	next := prev.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	now := s.now()
	finishUpdate(prev, next, now)

	data, err := encodeDocument(next)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind("UPDATE documents SET data = ?, search_text = ?, updated_at = ? WHERE collection = ? AND id = ?"),
		data, searchText(next), now.UTC().Format(createdLayout), collection, id,
	); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM documents WHERE collection = ? AND id = ?"),
		collection, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM documents WHERE collection = ?"), collection,
	).Scan(&n)
	return n, err
}
