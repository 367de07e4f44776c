// Package persistence provides SQLite-based storage for run metadata, agent
// attributes, the network, interaction ledgers, and per-step statistics.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/report"
)

// Agent snapshot phases.
const (
	PhaseOriginal = "original"
	PhaseFinal    = "final"
)

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		params_json TEXT NOT NULL,
		dims_json TEXT NOT NULL,
		census_json TEXT NOT NULL,
		started_at TEXT NOT NULL,
		last_time INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		id INTEGER NOT NULL,
		family_size INTEGER NOT NULL,
		powerful INTEGER NOT NULL,
		privilege INTEGER NOT NULL,
		values_json TEXT NOT NULL,
		behavior_json TEXT NOT NULL,
		PRIMARY KEY (run_id, phase, id)
	);

	CREATE TABLE IF NOT EXISTS edges (
		run_id TEXT NOT NULL,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		PRIMARY KEY (run_id, from_id, to_id)
	);

	CREATE TABLE IF NOT EXISTS interactions (
		run_id TEXT NOT NULL,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		communicated INTEGER NOT NULL,
		censored INTEGER NOT NULL,
		reinforced INTEGER NOT NULL,
		PRIMARY KEY (run_id, from_id, to_id)
	);

	CREATE TABLE IF NOT EXISTS statistics (
		run_id TEXT NOT NULL,
		time INTEGER NOT NULL,
		privilege INTEGER NOT NULL,
		counts_json TEXT NOT NULL,
		PRIMARY KEY (run_id, time)
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run is one row of the runs table. The JSON columns hold the parameters,
// dimension counts, and census shares the run was generated from.
type Run struct {
	ID         string `db:"id"`
	Seed       int64  `db:"seed"`
	ParamsJSON string `db:"params_json"`
	DimsJSON   string `db:"dims_json"`
	CensusJSON string `db:"census_json"`
	StartedAt  string `db:"started_at"`
	LastTime   int64  `db:"last_time"`
}

// NewRun builds a Run row, encoding the setup values as JSON.
func NewRun(id string, seed int64, params, dims, census any, started time.Time) (Run, error) {
	r := Run{ID: id, Seed: seed, StartedAt: started.UTC().Format(time.RFC3339)}
	for _, f := range []struct {
		dst *string
		v   any
	}{{&r.ParamsJSON, params}, {&r.DimsJSON, dims}, {&r.CensusJSON, census}} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return r, fmt.Errorf("encode run %s: %w", id, err)
		}
		*f.dst = string(b)
	}
	return r, nil
}

// SaveRun inserts or replaces the run row.
func (db *DB) SaveRun(r Run) error {
	_, err := db.conn.NamedExec(`INSERT OR REPLACE INTO runs
		(id, seed, params_json, dims_json, census_json, started_at, last_time)
		VALUES (:id, :seed, :params_json, :dims_json, :census_json, :started_at, :last_time)`, r)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// LoadRun returns the run row with the given ID.
func (db *DB) LoadRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT id, seed, params_json, dims_json, census_json, started_at, last_time FROM runs WHERE id = ?", id)
	if err != nil {
		return r, fmt.Errorf("load run %s: %w", id, err)
	}
	return r, nil
}

// SetLastTime records the most recent completed time slot of a run.
func (db *DB) SetLastTime(id string, t uint64) error {
	_, err := db.conn.Exec("UPDATE runs SET last_time = ? WHERE id = ?", int64(t), id)
	return err
}

// AgentRow is one row of the agents table.
type AgentRow struct {
	ID           int64  `db:"id"`
	FamilySize   int64  `db:"family_size"`
	Powerful     bool   `db:"powerful"`
	Privilege    int64  `db:"privilege"`
	ValuesJSON   string `db:"values_json"`
	BehaviorJSON string `db:"behavior_json"`
}

// SaveAgents writes the attributes of every record under phase (full replace).
func (db *DB) SaveAgents(runID, phase string, records []agents.Record) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents WHERE run_id = ? AND phase = ?", runID, phase); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(run_id, phase, id, family_size, powerful, privilege, values_json, behavior_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		valuesJSON, err := json.Marshal(r.Values)
		if err != nil {
			return fmt.Errorf("encode agent %d values: %w", r.ID, err)
		}
		behaviorJSON, err := json.Marshal(latest(r))
		if err != nil {
			return fmt.Errorf("encode agent %d behavior: %w", r.ID, err)
		}

		powerful := 0
		if r.Powerful {
			powerful = 1
		}

		_, err = stmt.Exec(runID, phase, int64(r.ID), int64(r.FamilySize), powerful,
			int64(r.Privilege), string(valuesJSON), string(behaviorJSON))
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

func latest(r agents.Record) agents.BehaviorList {
	if r.Current.Time > r.Previous.Time {
		return r.Current.Behavior
	}
	return r.Previous.Behavior
}

// LoadAgents returns the agent rows of one phase ordered by ID.
func (db *DB) LoadAgents(runID, phase string) ([]AgentRow, error) {
	var rows []AgentRow
	err := db.conn.Select(&rows, `SELECT id, family_size, powerful, privilege, values_json, behavior_json
		FROM agents WHERE run_id = ? AND phase = ? ORDER BY id`, runID, phase)
	return rows, err
}

// AgentCount returns the number of agents stored for one phase.
func (db *DB) AgentCount(runID, phase string) (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM agents WHERE run_id = ? AND phase = ?", runID, phase)
	return n, err
}

// SaveNetwork writes every edge as neighbor -> owner (full replace).
func (db *DB) SaveNetwork(runID string, records []agents.Record) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM edges WHERE run_id = ?", runID); err != nil {
		return err
	}
	stmt, err := tx.Preparex("INSERT INTO edges (run_id, from_id, to_id) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		for _, n := range r.Network {
			if _, err := stmt.Exec(runID, int64(n), int64(r.ID)); err != nil {
				return fmt.Errorf("insert edge %d->%d: %w", n, r.ID, err)
			}
		}
	}
	return tx.Commit()
}

// EdgeCount returns the number of stored edges of a run.
func (db *DB) EdgeCount(runID string) (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM edges WHERE run_id = ?", runID)
	return n, err
}

// InteractionRow is one row of the interactions table.
type InteractionRow struct {
	From         int64 `db:"from_id"`
	To           int64 `db:"to_id"`
	Communicated int64 `db:"communicated"`
	Censored     int64 `db:"censored"`
	Reinforced   int64 `db:"reinforced"`
}

// SaveInteractions writes every ledger entry (full replace).
func (db *DB) SaveInteractions(runID string, records []agents.Record) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM interactions WHERE run_id = ?", runID); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO interactions
		(run_id, from_id, to_id, communicated, censored, reinforced)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		for other, in := range r.Interactions {
			_, err := stmt.Exec(runID, int64(r.ID), int64(other),
				int64(in.Communicated), int64(in.Censored), int64(in.Reinforced))
			if err != nil {
				return fmt.Errorf("insert interaction %d->%d: %w", r.ID, other, err)
			}
		}
	}
	return tx.Commit()
}

// Interactions returns the ledger entries held by one agent.
func (db *DB) Interactions(runID string, from agents.AgentID) ([]InteractionRow, error) {
	var rows []InteractionRow
	err := db.conn.Select(&rows, `SELECT from_id, to_id, communicated, censored, reinforced
		FROM interactions WHERE run_id = ? AND from_id = ? ORDER BY to_id`, runID, int64(from))
	return rows, err
}

// SaveStatistics stores one step summary.
func (db *DB) SaveStatistics(runID string, s report.Snapshot) error {
	counts, err := json.Marshal(s.Counts)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO statistics (run_id, time, privilege, counts_json) VALUES (?, ?, ?, ?)",
		runID, int64(s.Time), int64(s.Privilege), string(counts),
	)
	return err
}

// Statistics returns every stored step summary of a run in time order.
func (db *DB) Statistics(runID string) ([]report.Snapshot, error) {
	var rows []struct {
		Time      int64  `db:"time"`
		Privilege int64  `db:"privilege"`
		Counts    string `db:"counts_json"`
	}
	err := db.conn.Select(&rows, "SELECT time, privilege, counts_json FROM statistics WHERE run_id = ? ORDER BY time", runID)
	if err != nil {
		return nil, err
	}

	out := make([]report.Snapshot, 0, len(rows))
	for _, r := range rows {
		s := report.Snapshot{Time: uint64(r.Time), Privilege: uint64(r.Privilege)}
		if err := json.Unmarshal([]byte(r.Counts), &s.Counts); err != nil {
			return nil, fmt.Errorf("decode statistics at %d: %w", r.Time, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// SaveMeta stores a key-value pair for a run.
func (db *DB) SaveMeta(runID, key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (run_id, key, value) VALUES (?, ?, ?)",
		runID, key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(runID, key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE run_id = ? AND key = ?", runID, key)
	return value, err
}

// SaveRunState writes agents of one phase, the network, ledgers, and the last
// completed time in one call.
func (db *DB) SaveRunState(runID, phase string, t uint64, records []agents.Record) error {
	slog.Info("saving run state", "run", runID, "phase", phase, "agents", len(records))

	if err := db.SaveAgents(runID, phase, records); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := db.SaveNetwork(runID, records); err != nil {
		return fmt.Errorf("save network: %w", err)
	}
	if err := db.SaveInteractions(runID, records); err != nil {
		return fmt.Errorf("save interactions: %w", err)
	}
	if err := db.SetLastTime(runID, t); err != nil {
		return fmt.Errorf("save last time: %w", err)
	}

	slog.Info("run state saved", "run", runID, "time", t)
	return nil
}
