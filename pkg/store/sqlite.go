package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// SQLite is a Store backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLite)(nil)

// NewSQLite opens the database at path and creates the schema.
// Use ":memory:" for an in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the schema and seeds the status descriptions.
func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS statuses (
		complex_status TEXT PRIMARY KEY,
		status TEXT,
		network TEXT,
		security TEXT
	);

	CREATE TABLE IF NOT EXISTS subs (
		sub_id INTEGER PRIMARY KEY AUTOINCREMENT,
		sub_type TEXT,
		host_name TEXT,
		shared_access_key_name TEXT,
		shared_access_key TEXT,
		auth_method TEXT,
		region TEXT
	);

	CREATE TABLE IF NOT EXISTS udata (
		device_id TEXT PRIMARY KEY,
		name TEXT,
		session_key TEXT,
		config_hash TEXT,
		keep_alive_counter INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'STATUS_NEWBORN' REFERENCES statuses(complex_status),
		update_time DATETIME,
		sub_id INTEGER REFERENCES subs(sub_id) ON DELETE SET NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	for _, st := range lifecycle.AllStatuses {
		d := st.Describe()
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO statuses (complex_status, status, network, security)
			VALUES (?, ?, ?, ?)
		`, st.Code(), d.Provision, d.Network, d.Security)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// exec runs an update on one device row and maps a missing row to
// ErrNotFound.
func (s *SQLite) exec(ctx context.Context, id wire.DeviceID, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args = append(args, s.now().UTC(), string(id))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// queryRow scans one column set of a device row.
func (s *SQLite) queryRow(ctx context.Context, id wire.DeviceID, query string, dest ...any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err := s.db.QueryRowContext(ctx, query, string(id)).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// RegisterDevice implements Store.
func (s *SQLite) RegisterDevice(ctx context.Context, id wire.DeviceID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO udata (device_id, name, update_time)
		VALUES (?, ?, ?)
	`, string(id), name, s.now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

// DeviceIDs implements Store.
func (s *SQLite) DeviceIDs(ctx context.Context) ([]wire.DeviceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT device_id FROM udata ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []wire.DeviceID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, wire.DeviceID(id))
	}
	return ids, rows.Err()
}

// Exists implements Store.
func (s *SQLite) Exists(ctx context.Context, id wire.DeviceID) (bool, error) {
	var one int
	err := s.queryRow(ctx, id, `SELECT 1 FROM udata WHERE device_id = ?`, &one)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SessionKey implements Store. Keys are stored hex-encoded.
func (s *SQLite) SessionKey(ctx context.Context, id wire.DeviceID) ([]byte, error) {
	var key sql.NullString
	if err := s.queryRow(ctx, id, `SELECT session_key FROM udata WHERE device_id = ?`, &key); err != nil {
		return nil, err
	}
	if !key.Valid || key.String == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(key.String)
	if err != nil {
		return nil, fmt.Errorf("stored session key of %s: %w", id, err)
	}
	return b, nil
}

// SetSessionKey implements Store.
func (s *SQLite) SetSessionKey(ctx context.Context, id wire.DeviceID, key []byte) error {
	var v any
	if key != nil {
		v = hex.EncodeToString(key)
	}
	return s.exec(ctx, id, `UPDATE udata SET session_key = ?, update_time = ? WHERE device_id = ?`, v)
}

// Status implements lifecycle.Backend.
func (s *SQLite) Status(ctx context.Context, id wire.DeviceID) (lifecycle.Status, error) {
	var code string
	if err := s.queryRow(ctx, id, `SELECT status FROM udata WHERE device_id = ?`, &code); err != nil {
		return 0, err
	}
	return lifecycle.ParseStatus(code)
}

// SetStatus implements lifecycle.Backend.
func (s *SQLite) SetStatus(ctx context.Context, id wire.DeviceID, st lifecycle.Status) error {
	return s.exec(ctx, id, `UPDATE udata SET status = ?, update_time = ? WHERE device_id = ?`, st.Code())
}

// KeepaliveCounter implements lifecycle.Backend.
func (s *SQLite) KeepaliveCounter(ctx context.Context, id wire.DeviceID) (int, error) {
	var n int
	err := s.queryRow(ctx, id, `SELECT keep_alive_counter FROM udata WHERE device_id = ?`, &n)
	return n, err
}

// SetKeepaliveCounter implements lifecycle.Backend.
func (s *SQLite) SetKeepaliveCounter(ctx context.Context, id wire.DeviceID, n int) error {
	return s.exec(ctx, id, `UPDATE udata SET keep_alive_counter = ?, update_time = ? WHERE device_id = ?`, n)
}

// ConfigHash implements lifecycle.Backend.
func (s *SQLite) ConfigHash(ctx context.Context, id wire.DeviceID) (string, error) {
	var h sql.NullString
	err := s.queryRow(ctx, id, `SELECT config_hash FROM udata WHERE device_id = ?`, &h)
	return h.String, err
}

// SetConfigHash implements lifecycle.Backend.
func (s *SQLite) SetConfigHash(ctx context.Context, id wire.DeviceID, hash string) error {
	return s.exec(ctx, id, `UPDATE udata SET config_hash = ?, update_time = ? WHERE device_id = ?`, hash)
}

// Configuration implements Store.
func (s *SQLite) Configuration(ctx context.Context, id wire.DeviceID) (*Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configuration(ctx, id)
}

func (s *SQLite) configuration(ctx context.Context, id wire.DeviceID) (*Configuration, error) {
	var subID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT sub_id FROM udata WHERE device_id = ?`, string(id)).Scan(&subID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil || !subID.Valid {
		return nil, err
	}

	var cols [6]sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT sub_type, host_name, shared_access_key_name, shared_access_key, auth_method, region
		FROM subs WHERE sub_id = ?
	`, subID.Int64).Scan(&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Configuration{
		Type:                cols[0].String,
		HostName:            cols[1].String,
		SharedAccessKeyName: cols[2].String,
		SharedAccessKey:     cols[3].String,
		AuthMethod:          cols[4].String,
		Region:              cols[5].String,
	}, nil
}

// SetConfiguration implements Store. Each assignment creates its own subs
// row; the previous row is removed.
func (s *SQLite) SetConfiguration(ctx context.Context, id wire.DeviceID, cfg *Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var old sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT sub_id FROM udata WHERE device_id = ?`, string(id)).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var subID any
	if cfg != nil {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO subs (sub_type, host_name, shared_access_key_name, shared_access_key, auth_method, region)
			VALUES (?, ?, ?, ?, ?, ?)
		`, nullable(cfg.Type), nullable(cfg.HostName), nullable(cfg.SharedAccessKeyName),
			nullable(cfg.SharedAccessKey), nullable(cfg.AuthMethod), nullable(cfg.Region))
		if err != nil {
			return err
		}
		if subID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE udata SET sub_id = ?, update_time = ? WHERE device_id = ?`,
		subID, s.now().UTC(), string(id))
	if err != nil {
		return err
	}
	if old.Valid {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subs WHERE sub_id = ?`, old.Int64); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Record implements Store.
func (s *SQLite) Record(ctx context.Context, id wire.DeviceID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		name, key, hash sql.NullString
		code            string
		counter         int
		updated         sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, session_key, config_hash, keep_alive_counter, status, update_time
		FROM udata WHERE device_id = ?
	`, string(id)).Scan(&name, &key, &hash, &counter, &code, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st, err := lifecycle.ParseStatus(code)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:               id,
		Name:             name.String,
		Status:           st,
		HasSessionKey:    key.Valid && key.String != "",
		ConfigHash:       hash.String,
		KeepaliveCounter: counter,
	}
	if updated.Valid {
		rec.Updated = updated.Time
	}
	if rec.Config, err = s.configuration(ctx, id); err != nil {
		return nil, err
	}
	return rec, nil
}
