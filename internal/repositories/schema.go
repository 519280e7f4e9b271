package repositories

import (
	"context"
	"fmt"
	"strings"
)

// projects and users belong to the order backend; they are created here only
// when absent so that local SQLite setups work standalone.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS projects (
	id                {{bigint}} PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT '',
	status_changed_at {{timestamp}} NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id               {{bigint}} PRIMARY KEY,
	email            TEXT NOT NULL DEFAULT '',
	telegram_chat_id {{bigint}},
	notify_telegram  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS project_reminders (
	id               TEXT PRIMARY KEY,
	project_id       {{bigint}} NOT NULL,
	title            TEXT NOT NULL,
	message          TEXT NOT NULL DEFAULT '',
	trigger_mode     TEXT NOT NULL,
	remind_at        {{timestamp}},
	watch_status     TEXT,
	delay_minutes    INTEGER NOT NULL DEFAULT 0,
	repeat           TEXT NOT NULL DEFAULT 'none',
	status           TEXT NOT NULL DEFAULT 'scheduled',
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	next_trigger_at  {{timestamp}},
	stage_matched_at {{timestamp}},
	occurrence_at    {{timestamp}},
	cycle_started_at {{timestamp}} NOT NULL,
	delivered_at     {{timestamp}},
	dispatch_attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at  {{timestamp}},
	created_by       {{bigint}} NOT NULL,
	recipients       TEXT NOT NULL DEFAULT '[]',
	channel_in_app   BOOLEAN NOT NULL DEFAULT TRUE,
	channel_email    BOOLEAN NOT NULL DEFAULT FALSE,
	timezone         TEXT NOT NULL DEFAULT 'UTC',
	version          {{bigint}} NOT NULL DEFAULT 1,
	created_at       {{timestamp}} NOT NULL,
	updated_at       {{timestamp}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_project_reminders_due
	ON project_reminders (status, is_active, next_trigger_at);
CREATE INDEX IF NOT EXISTS idx_project_reminders_watch
	ON project_reminders (project_id, watch_status, stage_matched_at);

CREATE TABLE IF NOT EXISTS reminder_deliveries (
	reminder_id   TEXT NOT NULL,
	occurrence_at {{timestamp}} NOT NULL,
	recipient_id  {{bigint}} NOT NULL,
	channel       TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT,
	delivered_at  {{timestamp}},
	PRIMARY KEY (reminder_id, occurrence_at, recipient_id, channel)
);

CREATE TABLE IF NOT EXISTS reminder_feed (
	id            {{serial}},
	user_id       {{bigint}} NOT NULL,
	reminder_id   TEXT NOT NULL,
	project_id    {{bigint}} NOT NULL,
	title         TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	occurrence_at {{timestamp}} NOT NULL,
	created_at    {{timestamp}} NOT NULL,
	read_at       {{timestamp}},
	UNIQUE (user_id, reminder_id, occurrence_at)
);

CREATE INDEX IF NOT EXISTS idx_reminder_feed_user ON reminder_feed (user_id, created_at);
`

func schemaFor(driver string) string {
	r := strings.NewReplacer(
		"{{bigint}}", "BIGINT",
		"{{timestamp}}", "TIMESTAMPTZ",
		"{{serial}}", "BIGSERIAL PRIMARY KEY",
	)
	if driver == DriverSQLite {
		r = strings.NewReplacer(
			"{{bigint}}", "INTEGER",
			"{{timestamp}}", "TEXT",
			"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		)
	}
	return r.Replace(schemaTemplate)
}

// laterColumns were added to project_reminders after its first release.
var laterColumns = []struct{ name, def string }{
	{"dispatch_attempts", "INTEGER NOT NULL DEFAULT 0"},
	{"next_attempt_at", "{{timestamp}}"},
}

// Migrate creates the engine tables and indexes if they do not exist and adds
// columns missing from older databases.
func Migrate(ctx context.Context, db *DB) error {
	for _, stmt := range strings.Split(schemaFor(db.driver), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	for _, col := range laterColumns {
		if err := addColumn(ctx, db, "project_reminders", col.name, col.def); err != nil {
			return fmt.Errorf("migrate: add %s: %w", col.name, err)
		}
	}
	return nil
}

func addColumn(ctx context.Context, db *DB, table, name, def string) error {
	def = strings.NewReplacer("{{timestamp}}", timestampType(db.driver)).Replace(def)
	if db.driver != DriverSQLite {
		_, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`, table, name, def))
		return err
	}
	var n int
	if err := db.queryRow(ctx, `SELECT COUNT(*) FROM pragma_table_info($1) WHERE name = $2`, table, name).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, name, def))
	return err
}

func timestampType(driver string) string {
	if driver == DriverSQLite {
		return "TEXT"
	}
	return "TIMESTAMPTZ"
}
