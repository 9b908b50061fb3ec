package postgres

// Schema creates every table the Store uses. EnsureSchema applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS scans (
	scan_id    TEXT PRIMARY KEY,
	task       TEXT NOT NULL,
	success    BOOLEAN NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time   TIMESTAMPTZ NOT NULL,
	payload    JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS scan_pages (
	id           BIGSERIAL PRIMARY KEY,
	scan_id      TEXT NOT NULL REFERENCES scans(scan_id) ON DELETE CASCADE,
	site         TEXT NOT NULL,
	link         TEXT NOT NULL,
	pathname     TEXT NOT NULL,
	path_label   TEXT NOT NULL DEFAULT '',
	method       TEXT NOT NULL DEFAULT '',
	status       INTEGER NOT NULL DEFAULT 0,
	page_title   TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	date_pub     TEXT NOT NULL DEFAULT '',
	text_body    JSONB NOT NULL DEFAULT '[]',
	tags         JSONB NOT NULL DEFAULT '[]',
	descriptions JSONB NOT NULL DEFAULT '[]',
	comments     JSONB NOT NULL DEFAULT '[]',
	media        JSONB NOT NULL DEFAULT '[]',
	captions     JSONB NOT NULL DEFAULT '[]',
	num_links    INTEGER NOT NULL DEFAULT 0,
	bad_labels   TEXT[] NOT NULL DEFAULT '{}',
	start_time   TIMESTAMPTZ NOT NULL,
	end_time     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scan_links (
	id       BIGSERIAL PRIMARY KEY,
	scan_id  TEXT NOT NULL REFERENCES scans(scan_id) ON DELETE CASCADE,
	site     TEXT NOT NULL,
	pathname TEXT NOT NULL,
	label    TEXT NOT NULL DEFAULT '',
	visited  BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_links_site_idx ON scan_links (site, pathname);

CREATE TABLE IF NOT EXISTS scan_errors (
	id               BIGSERIAL PRIMARY KEY,
	scan_id          TEXT NOT NULL REFERENCES scans(scan_id) ON DELETE CASCADE,
	site             TEXT NOT NULL,
	link             TEXT NOT NULL,
	pathname         TEXT NOT NULL,
	path_label       TEXT NOT NULL DEFAULT '',
	message          TEXT NOT NULL,
	visit_start_time TIMESTAMPTZ NOT NULL,
	visit_end_time   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_errors_site_idx ON scan_errors (site, path_label);

CREATE TABLE IF NOT EXISTS scan_jobs (
	id        TEXT PRIMARY KEY,
	request   JSONB NOT NULL,
	status    TEXT NOT NULL,
	submitted TIMESTAMPTZ NOT NULL,
	started   TIMESTAMPTZ,
	finished  TIMESTAMPTZ,
	payload   JSONB
);

CREATE TABLE IF NOT EXISTS site_progress (
	scan_id     TEXT NOT NULL,
	site        TEXT NOT NULL,
	visits      BIGINT NOT NULL,
	errors      BIGINT NOT NULL,
	completed   BOOLEAN NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (scan_id, site)
);
`
