package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"sre-platform/internal/models"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record already exists")
	ErrInvalidQuery = errors.New("invalid query")
)

// DocumentStore persists JSON records grouped by collection.
type DocumentStore interface {
	List(ctx context.Context, collection string, p models.ListParams) (models.ListResult, error)
	Get(ctx context.Context, collection, id string) (models.Document, error)
	Create(ctx context.Context, collection string, doc models.Document) (models.Document, error)
	// Update merges patch into the stored record.
	Update(ctx context.Context, collection, id string, patch models.Document) (models.Document, error)
	// Mutate applies fn to the stored record and saves the result atomically.
	Mutate(ctx context.Context, collection, id string, fn func(models.Document) error) (models.Document, error)
	Delete(ctx context.Context, collection, id string) error
	Count(ctx context.Context, collection string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// UserStore handles console accounts.
type UserStore interface {
	CreateUser(ctx context.Context, username, password string, role models.Role) (models.User, error)
	GetUser(ctx context.Context, id int) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, id int, username string, role models.Role) error
	UpdateUserProfile(ctx context.Context, id int, displayName, email string) error
	UpdateUserPassword(ctx context.Context, id int, passwordHash string) error
	UpdateUser2FA(ctx context.Context, id int, totpSecret string, enabled bool) error
	Disable2FA(ctx context.Context, id int) error
	TouchLogin(ctx context.Context, id int, at time.Time) error
	DeleteUser(ctx context.Context, id int) error
}

// Store bundles both record kinds behind one backend.
type Store interface {
	DocumentStore
	UserStore
	Migrate(ctx context.Context) error
}

// Open connects the backend named by driver: postgres, sqlite or memory.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	case "sqlite":
		return NewSQLiteStore(ctx, dsn)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func checkField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("%w: field %q", ErrInvalidQuery, name)
	}
	return nil
}

// sortKey splits a sort parameter into field and direction.
func sortKey(sort string) (field string, desc bool, err error) {
	field = sort
	if len(field) > 0 && field[0] == '-' {
		desc = true
		field = field[1:]
	}
	return field, desc, checkField(field)
}

// createdLayout keeps timestamps fixed-width so they sort lexically.
const createdLayout = "2006-01-02T15:04:05.000000Z"

// prepareCreate fills id and timestamps the way the mock server does.
// Values already present in the payload win.
func prepareCreate(collection string, doc models.Document, now time.Time) models.Document {
	out := doc.Clone()
	if out == nil {
		out = models.Document{}
	}
	if out.ID() == "" {
		out["id"] = newID(collection)
	}
	stamp := models.FormatTime(now)
	if _, ok := out["created_at"]; !ok {
		out["created_at"] = stamp
	}
	if _, ok := out["updated_at"]; !ok {
		out["updated_at"] = stamp
	}
	return out
}

// finishUpdate keeps identity fields from prev and bumps updated_at.
func finishUpdate(prev, next models.Document, now time.Time) {
	next["id"] = prev["id"]
	if v, ok := prev["created_at"]; ok {
		next["created_at"] = v
	}
	next["updated_at"] = models.FormatTime(now)
}

// stampValue renders doc[key] in createdLayout for the SQL sort columns.
func stampValue(doc models.Document, key string, fallback time.Time) string {
	if t, ok := doc.Time(key); ok {
		return t.UTC().Format(createdLayout)
	}
	return fallback.UTC().Format(createdLayout)
}

// searchText is the text a search runs against: the document's string
// values, case folded, one per line. Keys and JSON syntax are left out.
func searchText(doc models.Document) string {
	var b strings.Builder
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case string:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(foldSearch(x))
		case map[string]any:
			for _, k := range sortedKeys(x) {
				walk(x[k])
			}
		case models.Document:
			walk(map[string]any(x))
		case []any:
			for _, e := range x {
				walk(e)
			}
		case []string:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(map[string]any(doc))
	return b.String()
}

func foldSearch(s string) string { return strings.ToLower(s) }

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newID(collection string) string {
	return collection + "-" + uuid.NewString()
}
