package store

import "fmt"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rooms (
	id              TEXT PRIMARY KEY,
	room_number     TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL DEFAULT '',
	floor           INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	notes           TEXT NOT NULL DEFAULT '',
	last_cleaned_at TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rooms_status ON rooms(status);

CREATE TABLE IF NOT EXISTS custom_statuses (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	color      TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS room_events (
	id          BIGSERIAL PRIMARY KEY,
	resource    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	row_id      TEXT,
	data        JSONB NOT NULL,
	old_data    JSONB,
	received_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_room_events_row ON room_events(resource, row_id, received_at);

CREATE OR REPLACE FUNCTION housekeeping_notify_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(
		TG_ARGV[0] || '_' || TG_TABLE_NAME,
		jsonb_build_object(
			'eventType', TG_OP,
			'table', TG_TABLE_NAME,
			'new', CASE WHEN TG_OP = 'DELETE' THEN '{}'::jsonb ELSE to_jsonb(NEW) END,
			'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE to_jsonb(OLD) END
		)::text
	);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`

// triggerSQL installs the change trigger on table. prefix must already
// have been validated against channelPrefixRe.
func triggerSQL(table, prefix string) string {
	return fmt.Sprintf(`
DROP TRIGGER IF EXISTS %[1]s_notify ON %[1]s;
CREATE TRIGGER %[1]s_notify
	AFTER INSERT OR UPDATE OR DELETE ON %[1]s
	FOR EACH ROW EXECUTE FUNCTION housekeeping_notify_change('%[2]s');
`, table, prefix)
}

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS rooms (
	id              TEXT PRIMARY KEY,
	room_number     TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL DEFAULT '',
	floor           INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	notes           TEXT NOT NULL DEFAULT '',
	last_cleaned_at TEXT,
	updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rooms_status ON rooms(status);

CREATE TABLE IF NOT EXISTS custom_statuses (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	color      TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`
