package store

// schemaDDL creates every table and index the core needs. It is run once at
// startup, the same way postgres-consumer/go/main.go's initSchema runs a
// single multi-statement CREATE TABLE IF NOT EXISTS block.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS settlement (
	ref_id              BIGSERIAL PRIMARY KEY,
	settlement_id       VARCHAR(64) NOT NULL,
	settlement_version  BIGINT NOT NULL,
	pts                 VARCHAR(32) NOT NULL,
	processing_entity   VARCHAR(32) NOT NULL,
	counterparty_id     VARCHAR(64) NOT NULL,
	value_date          DATE NOT NULL,
	currency            VARCHAR(3) NOT NULL,
	amount              NUMERIC(20,2) NOT NULL,
	business_status     VARCHAR(16) NOT NULL,
	direction           VARCHAR(8) NOT NULL,
	settlement_type     VARCHAR(8) NOT NULL,
	is_old              BOOLEAN NOT NULL DEFAULT FALSE,
	create_time         TIMESTAMPTZ NOT NULL DEFAULT now(),
	update_time         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (settlement_id, pts, processing_entity, settlement_version)
);

CREATE INDEX IF NOT EXISTS idx_settlement_identity
	ON settlement (settlement_id, pts, processing_entity);

CREATE INDEX IF NOT EXISTS idx_settlement_group
	ON settlement (pts, processing_entity, counterparty_id, value_date);

CREATE INDEX IF NOT EXISTS idx_settlement_latest
	ON settlement (settlement_id, pts, processing_entity) WHERE is_old = FALSE;

CREATE TABLE IF NOT EXISTS running_total (
	pts                 VARCHAR(32) NOT NULL,
	processing_entity   VARCHAR(32) NOT NULL,
	counterparty_id     VARCHAR(64) NOT NULL,
	value_date          DATE NOT NULL,
	running_total       NUMERIC(20,2) NOT NULL DEFAULT 0,
	settlement_count    BIGINT NOT NULL DEFAULT 0,
	ref_id              BIGINT NOT NULL,
	create_time         TIMESTAMPTZ NOT NULL DEFAULT now(),
	update_time         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (pts, processing_entity, counterparty_id, value_date)
);

CREATE TABLE IF NOT EXISTS exchange_rate (
	currency    VARCHAR(3) PRIMARY KEY,
	rate_to_usd NUMERIC(20,8) NOT NULL,
	update_time TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS activities (
	id                  BIGSERIAL PRIMARY KEY,
	pts                 VARCHAR(32) NOT NULL,
	processing_entity   VARCHAR(32) NOT NULL,
	settlement_id       VARCHAR(64) NOT NULL,
	settlement_version  BIGINT NOT NULL,
	user_id             VARCHAR(64) NOT NULL,
	user_name           VARCHAR(128) NOT NULL,
	action              VARCHAR(20) NOT NULL,
	comment             TEXT NOT NULL DEFAULT '',
	create_time         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_activities_settlement
	ON activities (settlement_id, settlement_version);
`

// InitSchema creates all tables and indices if they do not already exist.
func InitSchema(db execer) error {
	_, err := db.Exec(schemaDDL)
	return err
}
