package sqlite

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scans (
	scan_id    TEXT PRIMARY KEY,
	task       TEXT NOT NULL,
	success    INTEGER NOT NULL,
	start_time TEXT NOT NULL,
	end_time   TEXT NOT NULL,
	payload    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
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
	text_body    TEXT NOT NULL DEFAULT '[]',
	tags         TEXT NOT NULL DEFAULT '[]',
	descriptions TEXT NOT NULL DEFAULT '[]',
	comments     TEXT NOT NULL DEFAULT '[]',
	media        TEXT NOT NULL DEFAULT '[]',
	captions     TEXT NOT NULL DEFAULT '[]',
	num_links    INTEGER NOT NULL DEFAULT 0,
	bad_labels   TEXT NOT NULL DEFAULT '[]',
	start_time   TEXT NOT NULL,
	end_time     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS links (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id  TEXT NOT NULL REFERENCES scans(scan_id) ON DELETE CASCADE,
	site     TEXT NOT NULL,
	pathname TEXT NOT NULL,
	label    TEXT NOT NULL DEFAULT '',
	visited  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id          TEXT NOT NULL REFERENCES scans(scan_id) ON DELETE CASCADE,
	site             TEXT NOT NULL,
	link             TEXT NOT NULL,
	pathname         TEXT NOT NULL,
	path_label       TEXT NOT NULL DEFAULT '',
	message          TEXT NOT NULL,
	visit_start_time TEXT NOT NULL,
	visit_end_time   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pages_scan ON pages(scan_id);
CREATE INDEX IF NOT EXISTS idx_links_site ON links(site, pathname);
CREATE INDEX IF NOT EXISTS idx_links_scan ON links(scan_id);
CREATE INDEX IF NOT EXISTS idx_errors_site ON errors(site, path_label);
CREATE INDEX IF NOT EXISTS idx_errors_scan ON errors(scan_id);
`
