package cachedb

// baseSchema is applied by the 0001_initial_schema migration. Every table
// uses CREATE TABLE IF NOT EXISTS so re-applying it (e.g. on a DB created by
// an older binary that already ran this migration) is a no-op.
const baseSchema = `
CREATE TABLE IF NOT EXISTS instances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    has_token INTEGER NOT NULL DEFAULT 0,
    authenticated_username TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS merge_requests (
    id INTEGER PRIMARY KEY,
    instance_id INTEGER NOT NULL,
    iid INTEGER NOT NULL,
    project_id INTEGER NOT NULL,
    project_name TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    author_username TEXT NOT NULL,
    source_branch TEXT NOT NULL,
    target_branch TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'opened',
    web_url TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    merged_at INTEGER,
    approval_status TEXT,
    approvals_required INTEGER,
    approvals_count INTEGER,
    labels TEXT NOT NULL DEFAULT '[]',
    reviewers TEXT NOT NULL DEFAULT '[]',
    pipeline_status TEXT,
    cached_at INTEGER NOT NULL,
    user_has_approved INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE,
    CHECK (approvals_count IS NULL OR approvals_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_mr_instance ON merge_requests(instance_id);
CREATE INDEX IF NOT EXISTS idx_mr_state ON merge_requests(state);
CREATE INDEX IF NOT EXISTS idx_mr_updated_at ON merge_requests(updated_at);

CREATE TABLE IF NOT EXISTS diffs (
    mr_id INTEGER PRIMARY KEY,
    content TEXT NOT NULL DEFAULT '',
    base_sha TEXT NOT NULL DEFAULT '',
    head_sha TEXT NOT NULL DEFAULT '',
    start_sha TEXT NOT NULL DEFAULT '',
    file_count INTEGER NOT NULL DEFAULT 0,
    additions INTEGER NOT NULL DEFAULT 0,
    deletions INTEGER NOT NULL DEFAULT 0,
    cached_at INTEGER NOT NULL,
    FOREIGN KEY (mr_id) REFERENCES merge_requests(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS diff_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mr_id INTEGER NOT NULL,
    old_path TEXT,
    new_path TEXT NOT NULL,
    change_type TEXT NOT NULL DEFAULT 'modified',
    additions INTEGER NOT NULL DEFAULT 0,
    deletions INTEGER NOT NULL DEFAULT 0,
    file_position INTEGER NOT NULL DEFAULT 0,
    diff_content TEXT,
    FOREIGN KEY (mr_id) REFERENCES merge_requests(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_diff_files_mr ON diff_files(mr_id, file_position);

CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY,
    mr_id INTEGER NOT NULL,
    discussion_id TEXT,
    parent_id INTEGER,
    author_username TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    file_path TEXT,
    old_line INTEGER,
    new_line INTEGER,
    line_type TEXT,
    resolved INTEGER NOT NULL DEFAULT 0,
    resolvable INTEGER NOT NULL DEFAULT 0,
    system INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    cached_at INTEGER NOT NULL,
    is_local INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (mr_id) REFERENCES merge_requests(id) ON DELETE CASCADE,
    CHECK (is_local = 0 OR id < 0)
);

CREATE INDEX IF NOT EXISTS idx_comments_mr ON comments(mr_id);
CREATE INDEX IF NOT EXISTS idx_comments_discussion ON comments(discussion_id);

CREATE TABLE IF NOT EXISTS sync_actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mr_id INTEGER NOT NULL,
    action_type TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    local_reference_id INTEGER,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at INTEGER NOT NULL,
    synced_at INTEGER,
    FOREIGN KEY (mr_id) REFERENCES merge_requests(id) ON DELETE CASCADE,
    CHECK (retry_count >= 0),
    CHECK ((status = 'synced') = (synced_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_sync_actions_status ON sync_actions(status, created_at);
CREATE INDEX IF NOT EXISTS idx_sync_actions_mr ON sync_actions(mr_id);
CREATE INDEX IF NOT EXISTS idx_sync_actions_local_ref ON sync_actions(local_reference_id);

CREATE TABLE IF NOT EXISTS sync_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation TEXT NOT NULL,
    status TEXT NOT NULL,
    mr_id INTEGER,
    message TEXT,
    duration_ms INTEGER,
    timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_log_timestamp ON sync_log(timestamp);

CREATE TABLE IF NOT EXISTS file_blobs (
    sha TEXT PRIMARY KEY,
    content BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS file_blob_refs (
    mr_id INTEGER NOT NULL,
    file_path TEXT NOT NULL,
    version TEXT NOT NULL CHECK (version IN ('base', 'head')),
    sha TEXT NOT NULL,
    PRIMARY KEY (mr_id, file_path, version),
    FOREIGN KEY (mr_id) REFERENCES merge_requests(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_file_blob_refs_sha ON file_blob_refs(sha);
`

// pendingActionsSchema is applied by the 0002_pending_action_summary
// migration: a view used by the status/health readers so they don't need to
// hand-write the same GROUP BY in several callers.
const pendingActionsSchema = `
CREATE VIEW IF NOT EXISTS pending_action_counts AS
SELECT
    mr_id,
    SUM(CASE WHEN status IN ('pending', 'syncing') THEN 1 ELSE 0 END) AS pending_count,
    SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed_count
FROM sync_actions
GROUP BY mr_id;
`
