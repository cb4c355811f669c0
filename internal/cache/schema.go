package cache

// schema contains the SQL schema for the cache database.
const schema = `
-- Message header cache, one row per (account, folder, uid)
CREATE TABLE IF NOT EXISTS headers (
    account_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    uid INTEGER NOT NULL,
    sender TEXT,
    subject TEXT,
    date DATETIME,
    flags TEXT NOT NULL DEFAULT '[]',
    cached_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (account_id, folder, uid)
);

CREATE INDEX IF NOT EXISTS idx_headers_account_folder ON headers(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_headers_date ON headers(date);

-- Locally queued outgoing messages
CREATE TABLE IF NOT EXISTS outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    recipient TEXT NOT NULL,
    subject TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outbox_account_status ON outbox(account_id, status);

-- Key-value settings, including the JSON-encoded account records
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
