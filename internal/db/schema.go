package db

// schemaSQL is the database schema initialization SQL. The single %d
// verb is the fingerprint embedding dimension.
const schemaSQL = `
    -- ==========================================================================
    -- FINGERPRINT TABLE (incident correlation)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS fingerprint SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS embedding ON fingerprint TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS source_job_id ON fingerprint TYPE string;
    DEFINE FIELD IF NOT EXISTS platform ON fingerprint TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS summary ON fingerprint TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON fingerprint TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS fingerprint_platform ON fingerprint FIELDS platform;
    DEFINE INDEX IF NOT EXISTS fingerprint_job ON fingerprint FIELDS source_job_id;
    DEFINE INDEX IF NOT EXISTS fingerprint_embedding ON fingerprint FIELDS embedding HNSW DIMENSION %[1]d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- DOCUMENT TABLE (redacted, embedded artifact chunks)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS path ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS chunk_index ON document TYPE int;
    DEFINE FIELD IF NOT EXISTS content ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON document TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_job ON document FIELDS job_id;
    DEFINE INDEX IF NOT EXISTS document_embedding ON document FIELDS embedding HNSW DIMENSION %[1]d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- JOB TABLE (pipeline job persistence)
    -- ==========================================================================
    -- Artifact content stays in memory; only metadata and outcome persist.
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS stage ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS file_names ON job TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON job TYPE datetime;
    DEFINE FIELD IF NOT EXISTS started_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS result ON job TYPE option<object> FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;
    DEFINE INDEX IF NOT EXISTS job_created ON job FIELDS created_at;

    -- ==========================================================================
    -- EVENT TABLE (progress event log, replayable by cursor)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS event SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON event TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON event TYPE int;
    DEFINE FIELD IF NOT EXISTS stage ON event TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON event TYPE string;
    DEFINE FIELD IF NOT EXISTS label ON event TYPE string;
    DEFINE FIELD IF NOT EXISTS message ON event TYPE string;
    DEFINE FIELD IF NOT EXISTS details ON event TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS timestamp ON event TYPE datetime;

    DEFINE INDEX IF NOT EXISTS event_job_seq ON event FIELDS job_id, seq UNIQUE;
`
