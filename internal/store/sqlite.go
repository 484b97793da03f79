package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/internal/tier"
	"liquidity-mm/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
    id                  INTEGER PRIMARY KEY CHECK (id = 1),
    max_acceptable_loss INTEGER NOT NULL,
    total_liquidity     INTEGER NOT NULL,
    global_multiplier   REAL    NOT NULL,
    is_active           INTEGER NOT NULL DEFAULT 0,
    default_shape_id    TEXT    NOT NULL DEFAULT '',
    curve               TEXT    NOT NULL DEFAULT '[]',
    updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tiers (
    name           TEXT PRIMARY KEY,
    position       INTEGER NOT NULL,
    budget_percent REAL    NOT NULL
);

CREATE TABLE IF NOT EXISTS tier_markets (
    tier_name TEXT    NOT NULL REFERENCES tiers(name) ON DELETE CASCADE,
    market_id TEXT    NOT NULL,
    position  INTEGER NOT NULL,
    weight    REAL    NOT NULL,
    locked    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tier_name, market_id)
);

CREATE TABLE IF NOT EXISTS thresholds (
    exposure_percent REAL PRIMARY KEY,
    pullback_percent REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS overrides (
    market_id  TEXT PRIMARY KEY,
    mode       TEXT NOT NULL,
    multiplier REAL NOT NULL DEFAULT 0,
    curve      TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS placed_markets (
    market_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS activity (
    id              TEXT PRIMARY KEY,
    action          TEXT    NOT NULL,
    details         TEXT    NOT NULL,
    exposure_before INTEGER NOT NULL,
    exposure_after  INTEGER NOT NULL,
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_at ON activity(created_at DESC);
`

// State is everything an operator has configured for one bot.
type State struct {
	Settings       planner.Settings            `json:"settings"`
	Curve          []shape.Point               `json:"curve"`
	DefaultShapeID string                      `json:"default_shape_id"`
	Tiers          []tier.Tier                 `json:"tiers"`
	Thresholds     []risk.Threshold            `json:"thresholds"`
	Overrides      map[string]planner.Override `json:"overrides"`

	// Placed lists markets that may still hold orders from an earlier
	// deploy, sorted. Deploy and withdraw clear them even after they leave
	// the tiers.
	Placed []string `json:"placed_markets"`
}

// SQLite stores bot state and the activity log (pure Go driver, no cgo).
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveState replaces the stored state in a single transaction.
func (s *SQLite) SaveState(ctx context.Context, st State) error {
	curve, err := json.Marshal(nonNilPoints(st.Curve))
	if err != nil {
		return fmt.Errorf("marshal curve: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings (id, max_acceptable_loss, total_liquidity, global_multiplier, is_active, default_shape_id, curve, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			max_acceptable_loss = excluded.max_acceptable_loss,
			total_liquidity     = excluded.total_liquidity,
			global_multiplier   = excluded.global_multiplier,
			is_active           = excluded.is_active,
			default_shape_id    = excluded.default_shape_id,
			curve               = excluded.curve,
			updated_at          = excluded.updated_at`,
		st.Settings.MaxAcceptableLoss, st.Settings.TotalLiquidity, st.Settings.GlobalMultiplier,
		boolToInt(st.Settings.IsActive), st.DefaultShapeID, string(curve), time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	for _, stmt := range []string{`DELETE FROM tier_markets`, `DELETE FROM tiers`, `DELETE FROM thresholds`, `DELETE FROM overrides`, `DELETE FROM placed_markets`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
	}

	for i, t := range st.Tiers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tiers (name, position, budget_percent) VALUES (?, ?, ?)`,
			t.Name, i, t.BudgetPercent,
		); err != nil {
			return fmt.Errorf("save tier %q: %w", t.Name, err)
		}
		for j, m := range t.Markets {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tier_markets (tier_name, market_id, position, weight, locked) VALUES (?, ?, ?, ?, ?)`,
				t.Name, m.MarketID, j, m.Weight, boolToInt(m.Locked),
			); err != nil {
				return fmt.Errorf("save market %q: %w", m.MarketID, err)
			}
		}
	}

	for _, th := range st.Thresholds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO thresholds (exposure_percent, pullback_percent) VALUES (?, ?)`,
			th.ExposurePercent, th.PullbackPercent,
		); err != nil {
			return fmt.Errorf("save threshold: %w", err)
		}
	}

	for id, o := range st.Overrides {
		oc, err := json.Marshal(nonNilPoints(o.Curve))
		if err != nil {
			return fmt.Errorf("marshal override curve: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO overrides (market_id, mode, multiplier, curve) VALUES (?, ?, ?, ?)`,
			id, string(o.Mode), o.Multiplier, string(oc),
		); err != nil {
			return fmt.Errorf("save override %q: %w", id, err)
		}
	}

	for _, id := range st.Placed {
		if _, err := tx.ExecContext(ctx, `INSERT INTO placed_markets (market_id) VALUES (?)`, id); err != nil {
			return fmt.Errorf("save placed market %q: %w", id, err)
		}
	}

	return tx.Commit()
}

// LoadState returns the stored state. found is false when nothing has been
// saved yet.
func (s *SQLite) LoadState(ctx context.Context) (st State, found bool, err error) {
	var (
		active int
		curve  string
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT max_acceptable_loss, total_liquidity, global_multiplier, is_active, default_shape_id, curve
		FROM settings WHERE id = 1`,
	).Scan(&st.Settings.MaxAcceptableLoss, &st.Settings.TotalLiquidity, &st.Settings.GlobalMultiplier,
		&active, &st.DefaultShapeID, &curve)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load settings: %w", err)
	}
	st.Settings.IsActive = active != 0
	if err := json.Unmarshal([]byte(curve), &st.Curve); err != nil {
		return State{}, false, fmt.Errorf("unmarshal curve: %w", err)
	}

	if st.Tiers, err = s.loadTiers(ctx); err != nil {
		return State{}, false, err
	}
	if st.Thresholds, err = s.loadThresholds(ctx); err != nil {
		return State{}, false, err
	}
	if st.Overrides, err = s.loadOverrides(ctx); err != nil {
		return State{}, false, err
	}
	if st.Placed, err = s.loadPlaced(ctx); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func (s *SQLite) loadPlaced(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT market_id FROM placed_markets ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("load placed markets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan placed market: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) loadTiers(ctx context.Context) ([]tier.Tier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, budget_percent FROM tiers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}
	var tiers []tier.Tier
	index := make(map[string]int)
	for rows.Next() {
		var t tier.Tier
		if err := rows.Scan(&t.Name, &t.BudgetPercent); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		index[t.Name] = len(tiers)
		tiers = append(tiers, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT tier_name, market_id, weight, locked FROM tier_markets ORDER BY tier_name, position`)
	if err != nil {
		return nil, fmt.Errorf("load tier markets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name   string
			m      tier.MarketWeight
			locked int
		)
		if err := rows.Scan(&name, &m.MarketID, &m.Weight, &locked); err != nil {
			return nil, fmt.Errorf("scan tier market: %w", err)
		}
		m.Locked = locked != 0
		if i, ok := index[name]; ok {
			tiers[i].Markets = append(tiers[i].Markets, m)
		}
	}
	return tiers, rows.Err()
}

func (s *SQLite) loadThresholds(ctx context.Context) ([]risk.Threshold, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT exposure_percent, pullback_percent FROM thresholds ORDER BY exposure_percent`)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	defer rows.Close()

	var out []risk.Threshold
	for rows.Next() {
		var th risk.Threshold
		if err := rows.Scan(&th.ExposurePercent, &th.PullbackPercent); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

func (s *SQLite) loadOverrides(ctx context.Context) (map[string]planner.Override, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT market_id, mode, multiplier, curve FROM overrides`)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]planner.Override)
	for rows.Next() {
		var (
			id, mode, curve string
			o               planner.Override
		)
		if err := rows.Scan(&id, &mode, &o.Multiplier, &curve); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o.Mode = planner.OverrideMode(mode)
		if err := json.Unmarshal([]byte(curve), &o.Curve); err != nil {
			return nil, fmt.Errorf("unmarshal override curve %q: %w", id, err)
		}
		if len(o.Curve) == 0 {
			o.Curve = nil
		}
		out[id] = o
	}
	return out, rows.Err()
}

// Record appends one entry to the activity log.
func (s *SQLite) Record(ctx context.Context, a types.Activity) error {
	if a.ID == "" {
		return fmt.Errorf("%w: activity without id", types.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO activity (id, action, details, exposure_before, exposure_after, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Action), a.Details, a.ExposureBefore, a.ExposureAfter, a.Timestamp.UnixMilli(),
	); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest entries first.
func (s *SQLite) ListActivity(ctx context.Context, limit int) ([]types.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, details, exposure_before, exposure_after, created_at
		FROM activity ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []types.Activity
	for rows.Next() {
		var (
			a      types.Activity
			action string
			ms     int64
		)
		if err := rows.Scan(&a.ID, &action, &a.Details, &a.ExposureBefore, &a.ExposureAfter, &ms); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Action = types.Action(action)
		a.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func nonNilPoints(p []shape.Point) []shape.Point {
	if p == nil {
		return []shape.Point{}
	}
	return p
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
