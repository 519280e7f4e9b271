package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrReminderNotFound = errors.New("reminder not found")
	ErrProjectNotFound  = errors.New("project not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrFeedItemNotFound = errors.New("feed item not found")
	// ErrVersionConflict means the row changed since it was read.
	ErrVersionConflict = errors.New("reminder version conflict")
)

// sqliteTimeLayout is fixed-width so that text comparison orders instants.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// DB wraps *sql.DB with the dialect differences between Postgres and SQLite.
// Queries are written with $N placeholders.
type DB struct {
	*sql.DB
	driver string
}

// Open connects to the database and verifies connectivity.
func Open(ctx context.Context, driverName, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn is empty", driverName)
	}
	var sqlDriver string
	switch driverName {
	case DriverPostgres:
		sqlDriver = "postgres"
	case DriverSQLite:
		sqlDriver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if driverName == DriverSQLite {
		// a single writer avoids SQLITE_BUSY between the scheduler and handlers
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}
	return &DB{DB: db, driver: driverName}, nil
}

func (d *DB) Driver() string { return d.driver }

// rebind turns $N placeholders into positional ? for SQLite and reorders args to match.
func (d *DB) rebind(query string, args []interface{}) (string, []interface{}) {
	if d.driver != DriverSQLite {
		return query, args
	}
	var ordered []interface{}
	q := placeholderRe.ReplaceAllStringFunc(query, func(m string) string {
		n, _ := strconv.Atoi(m[1:])
		if n >= 1 && n <= len(args) {
			ordered = append(ordered, args[n-1])
		}
		return "?"
	})
	return q, ordered
}

func (d *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	q, a := d.rebind(query, args)
	return d.ExecContext(ctx, q, a...)
}

func (d *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	q, a := d.rebind(query, args)
	return d.QueryContext(ctx, q, a...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	q, a := d.rebind(query, args)
	return d.QueryRowContext(ctx, q, a...)
}

// ts encodes an instant for the current dialect.
func (d *DB) ts(t time.Time) interface{} {
	if d.driver == DriverSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// nts encodes an optional instant.
func (d *DB) nts(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return d.ts(*t)
}

func (d *DB) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// nullTime scans timestamps stored natively (Postgres) or as text (SQLite).
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (n *nullTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

func (n nullTime) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Time, nil
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
