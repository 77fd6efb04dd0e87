package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the tally store.
var Migrations = migrate.NewGroup("tally")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tally_plans",
			Version: "20240601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_plans (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    tier          TEXT NOT NULL,
    price_amount  BIGINT NOT NULL DEFAULT 0,
    currency      TEXT NOT NULL,
    interval      TEXT NOT NULL,
    entitlements  TEXT NOT NULL DEFAULT '{}',
    overage_rates TEXT NOT NULL DEFAULT '{}',
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_plans_tier ON tally_plans (tier, active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_subscriptions",
			Version: "20240601000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_subscriptions (
    id                   TEXT PRIMARY KEY,
    account_id           TEXT NOT NULL,
    plan_id              TEXT NOT NULL,
    status               TEXT NOT NULL,
    current_period_start TIMESTAMPTZ NOT NULL,
    current_period_end   TIMESTAMPTZ NOT NULL,
    cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
    canceled_at          TIMESTAMPTZ,
    payment_ref          TEXT NOT NULL DEFAULT '',
    version              BIGINT NOT NULL DEFAULT 0,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_subs_live ON tally_subscriptions (account_id)
    WHERE status IN ('active', 'canceling', 'past_due');
CREATE INDEX IF NOT EXISTS idx_tally_subs_plan ON tally_subscriptions (plan_id, status);
CREATE INDEX IF NOT EXISTS idx_tally_subs_updated ON tally_subscriptions (updated_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_usage",
			Version: "20240601000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_usage (
    id            TEXT PRIMARY KEY,
    account_id    TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    quantity      BIGINT NOT NULL,
    timestamp     TIMESTAMPTZ NOT NULL,
    recorded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_usage_account ON tally_usage (account_id, resource_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_tally_usage_recorded ON tally_usage (recorded_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_usage`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_invoices",
			Version: "20240601000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_invoices (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    subscription_id TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    currency        TEXT NOT NULL,
    subtotal        BIGINT NOT NULL DEFAULT 0,
    total           BIGINT NOT NULL DEFAULT 0,
    line_items      TEXT NOT NULL DEFAULT '[]',
    period_start    TIMESTAMPTZ NOT NULL,
    period_end      TIMESTAMPTZ NOT NULL,
    paid_at         TIMESTAMPTZ,
    voided_at       TIMESTAMPTZ,
    void_reason     TEXT NOT NULL DEFAULT '',
    payment_ref     TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_invoices_account ON tally_invoices (account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tally_invoices_sub ON tally_invoices (subscription_id);
CREATE INDEX IF NOT EXISTS idx_tally_invoices_status ON tally_invoices (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_invoices`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_user_addons",
			Version: "20240601000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_user_addons (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    addon_id     TEXT NOT NULL,
    price        BIGINT NOT NULL,
    commission   BIGINT NOT NULL DEFAULT 0,
    currency     TEXT NOT NULL,
    recurring    BOOLEAN NOT NULL DEFAULT FALSE,
    payment_ref  TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    purchased_at TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_user_addons_account ON tally_user_addons (account_id, purchased_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_user_addons`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_audit",
			Version: "20240601000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_audit (
    id           TEXT PRIMARY KEY,
    sequence     BIGINT NOT NULL,
    operation    TEXT NOT NULL,
    account_id   TEXT NOT NULL DEFAULT '',
    params       TEXT NOT NULL DEFAULT 'null',
    timestamp    TIMESTAMPTZ NOT NULL,
    intent_hash  TEXT NOT NULL,
    status       TEXT NOT NULL,
    route        TEXT NOT NULL,
    result       TEXT NOT NULL DEFAULT 'null',
    error_kind   TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    completed_at TIMESTAMPTZ NOT NULL,
    prev_hash    TEXT NOT NULL DEFAULT '',
    hash         TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_audit_sequence ON tally_audit (sequence);
CREATE INDEX IF NOT EXISTS idx_tally_audit_account ON tally_audit (account_id, sequence);
CREATE INDEX IF NOT EXISTS idx_tally_audit_timestamp ON tally_audit (timestamp);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_audit`)
				return err
			},
		},
	)
}
