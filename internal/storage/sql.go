package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/rs/zerolog"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL dialects; the names double as database/sql driver names.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		source_id VARCHAR(255) PRIMARY KEY,
		seq BIGINT NOT NULL,
		action VARCHAR(32) NOT NULL,
		parameters TEXT NOT NULL,
		reason TEXT NOT NULL,
		applied_at VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id VARCHAR(64) PRIMARY KEY,
		pos BIGINT NOT NULL,
		cycle_id VARCHAR(64) NOT NULL,
		at VARCHAR(64) NOT NULL,
		change_kind VARCHAR(16) NOT NULL,
		rule_snapshot TEXT NOT NULL
	)`,
}

// SQLStore persists rules and audit entries through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string
	logger  zerolog.Logger
}

// OpenSQL opens the database, checks the connection and creates the tables.
func OpenSQL(ctx context.Context, dialect, dsn string, logger zerolog.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// one writer; avoids "database is locked" under concurrent readers
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With().Str("component", "sql_store").Str("dialect", dialect).Logger(),
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s schema: %w", dialect, err)
		}
	}

	s.logger.Info().Msg("sql store ready")
	return s, nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) upsertRuleQuery() string {
	if s.dialect == DialectMySQL {
		return `INSERT INTO rules (source_id, seq, action, parameters, reason, applied_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE action = VALUES(action), parameters = VALUES(parameters),
				reason = VALUES(reason), applied_at = VALUES(applied_at)`
	}
	return s.rebind(`INSERT INTO rules (source_id, seq, action, parameters, reason, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id) DO UPDATE SET action = excluded.action, parameters = excluded.parameters,
			reason = excluded.reason, applied_at = excluded.applied_at`)
}

// Commit applies entries in order inside one transaction: each entry upserts
// or deletes its rule row and appends an audit row.
func (s *SQLStore) Commit(ctx context.Context, entries []core.AuditEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cycle transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	var pos int64
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(pos), 0) FROM audit_log").Scan(&pos); err != nil {
		return fmt.Errorf("read audit position: %w", err)
	}

	upsert := s.upsertRuleQuery()
	del := s.rebind("DELETE FROM rules WHERE source_id = ?")
	insertAudit := s.rebind(`INSERT INTO audit_log (id, pos, cycle_id, at, change_kind, rule_snapshot)
		VALUES (?, ?, ?, ?, ?, ?)`)

	for _, e := range entries {
		pos++
		mut, mErr := mutationFor(e.Kind)
		if mErr != nil {
			err = mErr
			return err
		}

		switch mut {
		case mutUpsert:
			params, jErr := json.Marshal(e.Rule.Params)
			if jErr != nil {
				err = fmt.Errorf("marshal parameters for %s: %w", e.Rule.SourceID, jErr)
				return err
			}
			if _, err = tx.ExecContext(ctx, upsert,
				e.Rule.SourceID, pos, string(e.Rule.Action), string(params), e.Rule.Reason, formatTime(e.Rule.AppliedAt),
			); err != nil {
				return fmt.Errorf("upsert rule %s: %w", e.Rule.SourceID, err)
			}
		case mutDelete:
			if _, err = tx.ExecContext(ctx, del, e.Rule.SourceID); err != nil {
				return fmt.Errorf("delete rule %s: %w", e.Rule.SourceID, err)
			}
		}

		snapshot, jErr := json.Marshal(e.Rule)
		if jErr != nil {
			err = fmt.Errorf("marshal audit snapshot: %w", jErr)
			return err
		}
		if _, err = tx.ExecContext(ctx, insertAudit,
			e.ID, pos, e.CycleID, formatTime(e.Time), string(e.Kind), string(snapshot),
		); err != nil {
			return fmt.Errorf("insert audit entry %s: %w", e.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle transaction: %w", err)
	}
	s.logger.Debug().Int("entries", len(entries)).Int64("audit_pos", pos).Msg("cycle committed")
	return nil
}

// Load returns the persisted rules in insertion order and the full audit log.
func (s *SQLStore) Load(ctx context.Context) ([]core.Rule, []core.AuditEntry, error) {
	rules, err := s.loadRules(ctx)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.loadAudit(ctx)
	if err != nil {
		return nil, nil, err
	}
	return rules, entries, nil
}

func (s *SQLStore) loadRules(ctx context.Context) ([]core.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, action, parameters, reason, applied_at FROM rules ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := []core.Rule{}
	for rows.Next() {
		var (
			r              core.Rule
			action, params string
			appliedAt      string
		)
		if err := rows.Scan(&r.SourceID, &action, &params, &r.Reason, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Action = core.Action(action)
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("decode parameters for %s: %w", r.SourceID, err)
		}
		if r.AppliedAt, err = parseTime(appliedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func (s *SQLStore) loadAudit(ctx context.Context) ([]core.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, cycle_id, at, change_kind, rule_snapshot FROM audit_log ORDER BY pos")
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	entries := []core.AuditEntry{}
	for rows.Next() {
		var (
			e              core.AuditEntry
			at, kind, snap string
		)
		if err := rows.Scan(&e.ID, &e.CycleID, &at, &kind, &snap); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = core.ChangeKind(kind)
		if e.Time, err = parseTime(at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snap), &e.Rule); err != nil {
			return nil, fmt.Errorf("decode snapshot for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
