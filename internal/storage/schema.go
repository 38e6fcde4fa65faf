package storage

const schemaSQL = `
-- Pages table serves as queue, visited set and results storage
-- status column manages the lifecycle: queued -> processing -> completed
CREATE TABLE IF NOT EXISTS pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL,
    url_normalized TEXT UNIQUE NOT NULL,
    depth INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued', 'processing', 'completed', 'error')),

    -- Queue-related fields
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    processing_started_at DATETIME,

    -- Fetch result fields (NULL until crawled)
    final_url TEXT,
    status_code INTEGER,
    content_type TEXT,
    content_length INTEGER,
    content_encoding TEXT,
    last_modified TEXT,
    ttfb_ms INTEGER,
    download_time_ms INTEGER,
    response_size_bytes INTEGER,
    crawled_at DATETIME,

    -- Discovery result fields (NULL until discovery finished)
    lang TEXT,
    canonical TEXT,
    links_found INTEGER,
    in_sitemap INTEGER NOT NULL DEFAULT 0,
    discovery_error TEXT,
    discovered_at DATETIME,

    -- Error tracking
    retry_count INTEGER DEFAULT 0,
    last_error_type TEXT,
    last_error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(status);
CREATE INDEX IF NOT EXISTS idx_pages_status_id ON pages(status, id);
CREATE INDEX IF NOT EXISTS idx_pages_status_code ON pages(status_code) WHERE status = 'completed';

-- View for pages written to the sitemap
CREATE VIEW IF NOT EXISTS sitemap_pages AS
SELECT
    id, url, depth, lang, canonical, last_modified
FROM pages
WHERE in_sitemap = 1;

-- View for queue management
CREATE VIEW IF NOT EXISTS queue_status AS
SELECT
    status,
    COUNT(*) as count,
    MIN(added_at) as oldest_item,
    MAX(added_at) as newest_item
FROM pages
GROUP BY status;

-- Alternate-language versions declared by a page
CREATE TABLE IF NOT EXISTS alternatives (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    url TEXT NOT NULL,
    url_normalized TEXT NOT NULL,
    lang TEXT NOT NULL,
    UNIQUE(page_id, url_normalized)
);

CREATE INDEX IF NOT EXISTS idx_alternatives_page ON alternatives(page_id);

-- Separate errors table for detailed error tracking
CREATE TABLE IF NOT EXISTS crawl_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL,
    error_type TEXT NOT NULL,
    error_message TEXT,
    occurred_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_errors_url ON crawl_errors(url);
CREATE INDEX IF NOT EXISTS idx_errors_type ON crawl_errors(error_type);

-- Crawl meta table stores metadata as key-value pairs
CREATE TABLE IF NOT EXISTS crawl_meta (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL
);
`
