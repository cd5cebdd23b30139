package archive

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  domain TEXT NOT NULL,
  type TEXT NOT NULL,
  session_id TEXT NOT NULL,
  payload TEXT,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_domain_created ON events(domain, created_at);

CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
`
