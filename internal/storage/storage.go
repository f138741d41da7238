// Package storage provides durable storage for recipients, positions, and price alerts
// backed by a pure-Go SQLite database.
//
// The bot runs a single cooperative loop, so every request performs a strict
// read-then-write sequence without optimistic concurrency. The pool is pinned to one
// connection, which also keeps ":memory:" databases coherent in tests.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS recipients (
	id         INTEGER PRIMARY KEY,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	recipient_id INTEGER NOT NULL,
	instrument   TEXT    NOT NULL,
	quantity     TEXT    NOT NULL,
	average_cost TEXT    NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (recipient_id, instrument)
);
CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT    PRIMARY KEY,
	recipient_id INTEGER NOT NULL,
	instrument   TEXT    NOT NULL,
	target_price REAL    NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_recipient ON alerts(recipient_id, instrument);
`

// Storage is the SQLite-backed store for all persisted bot state.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at dbPath and applies the schema.
// Use ":memory:" for an ephemeral database.
func New(dbPath string) (*Storage, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" && dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// ─── Recipients ─────────────────────────────────────────────────────────────

// EnsureRecipient creates the recipient as active if it does not exist yet.
// An existing recipient is left untouched, so an opted-out recipient stays inactive.
func (s *Storage) EnsureRecipient(id int64) (created bool, err error) {
	now := s.now().Unix()
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO recipients (id, active, created_at, updated_at) VALUES (?, 1, ?, ?)`,
		id, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure recipient %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ActivateRecipient upserts the recipient as active.
func (s *Storage) ActivateRecipient(id int64) error {
	now := s.now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO recipients (id, active, created_at, updated_at) VALUES (?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET active = 1, updated_at = excluded.updated_at`,
		id, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to activate recipient %d: %w", id, err)
	}
	return nil
}

// DeactivateRecipient marks the recipient inactive. It reports whether a row existed.
func (s *Storage) DeactivateRecipient(id int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE recipients SET active = 0, updated_at = ? WHERE id = ?`,
		s.now().Unix(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate recipient %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetRecipient returns the recipient or ErrNotFound.
func (s *Storage) GetRecipient(id int64) (*models.Recipient, error) {
	row := s.db.QueryRow(`SELECT id, active, created_at, updated_at FROM recipients WHERE id = ?`, id)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recipient %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient %d: %w", id, err)
	}
	return r, nil
}

// ActiveRecipients returns every active recipient ordered by id.
func (s *Storage) ActiveRecipients() ([]models.Recipient, error) {
	rows, err := s.db.Query(`SELECT id, active, created_at, updated_at FROM recipients WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	var out []models.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CountRecipients returns the total and active recipient counts.
func (s *Storage) CountRecipients() (total, active int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(active), 0) FROM recipients`).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return total, active, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecipient(sc scanner) (*models.Recipient, error) {
	var (
		r                models.Recipient
		active           int
		created, updated int64
	)
	if err := sc.Scan(&r.ID, &active, &created, &updated); err != nil {
		return nil, err
	}
	r.Active = active == 1
	r.CreatedAt = time.Unix(created, 0)
	r.UpdatedAt = time.Unix(updated, 0)
	return &r, nil
}

// ─── Positions ──────────────────────────────────────────────────────────────

// GetPosition returns the position or ErrNotFound.
func (s *Storage) GetPosition(recipientID int64, instrument string) (*models.Position, error) {
	row := s.db.QueryRow(`
		SELECT recipient_id, instrument, quantity, average_cost, updated_at
		FROM positions WHERE recipient_id = ? AND instrument = ?`,
		recipientID, instrument,
	)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", instrument, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w", instrument, err)
	}
	return p, nil
}

// ApplyToPosition reads the current position, applies qty at price using the
// weighted-average rule, and writes the result (or deletes it when the quantity
// drops to zero or below) inside one transaction.
//
// A reduction of a position that does not exist returns ErrNotFound.
func (s *Storage) ApplyToPosition(recipientID int64, instrument string, qty, price decimal.Decimal) (pos models.Position, closed bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return pos, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current := models.Position{RecipientID: recipientID, Instrument: instrument, Quantity: decimal.Zero, AverageCost: decimal.Zero}
	existing, err := scanPosition(tx.QueryRow(`
		SELECT recipient_id, instrument, quantity, average_cost, updated_at
		FROM positions WHERE recipient_id = ? AND instrument = ?`,
		recipientID, instrument,
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !qty.IsPositive() {
			err = fmt.Errorf("position %s: %w", instrument, ErrNotFound)
			return pos, false, err
		}
		err = nil
	case err != nil:
		return pos, false, fmt.Errorf("failed to read position %s: %w", instrument, err)
	default:
		current = *existing
	}

	pos, closed = current.Apply(qty, price)
	pos.UpdatedAt = s.now()

	if closed {
		if _, err = tx.Exec(`DELETE FROM positions WHERE recipient_id = ? AND instrument = ?`, recipientID, instrument); err != nil {
			return pos, false, fmt.Errorf("failed to delete position %s: %w", instrument, err)
		}
	} else {
		if err = pos.Validate(); err != nil {
			return pos, false, fmt.Errorf("invalid position: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO positions (recipient_id, instrument, quantity, average_cost, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(recipient_id, instrument) DO UPDATE SET
				quantity = excluded.quantity,
				average_cost = excluded.average_cost,
				updated_at = excluded.updated_at`,
			pos.RecipientID, pos.Instrument, pos.Quantity.String(), pos.AverageCost.String(), pos.UpdatedAt.Unix(),
		)
		if err != nil {
			return pos, false, fmt.Errorf("failed to save position %s: %w", instrument, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return pos, false, fmt.Errorf("failed to commit position %s: %w", instrument, err)
	}
	return pos, closed, nil
}

// DeletePosition removes a position. It reports whether a row existed.
func (s *Storage) DeletePosition(recipientID int64, instrument string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM positions WHERE recipient_id = ? AND instrument = ?`, recipientID, instrument)
	if err != nil {
		return false, fmt.Errorf("failed to delete position %s: %w", instrument, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListPositions returns a recipient's positions ordered by instrument.
func (s *Storage) ListPositions(recipientID int64) ([]models.Position, error) {
	rows, err := s.db.Query(`
		SELECT recipient_id, instrument, quantity, average_cost, updated_at
		FROM positions WHERE recipient_id = ? ORDER BY instrument`,
		recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPosition(sc scanner) (*models.Position, error) {
	var (
		p         models.Position
		qty, avg  string
		updatedAt int64
	)
	if err := sc.Scan(&p.RecipientID, &p.Instrument, &qty, &avg, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("corrupt quantity %q: %w", qty, err)
	}
	if p.AverageCost, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("corrupt average cost %q: %w", avg, err)
	}
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// ─── Alerts ─────────────────────────────────────────────────────────────────

// AddAlert stores a new alert. ID and CreatedAt are assigned when empty.
// Alerts are not de-duplicated.
func (s *Storage) AddAlert(alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now()
	}
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}

	_, err := s.db.Exec(
		`INSERT INTO alerts (id, recipient_id, instrument, target_price, created_at) VALUES (?, ?, ?, ?, ?)`,
		alert.ID, alert.RecipientID, alert.Instrument, alert.TargetPrice, alert.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to add alert: %w", err)
	}
	return nil
}

// RemoveAlerts deletes every alert of the recipient for instrument and returns the count.
func (s *Storage) RemoveAlerts(recipientID int64, instrument string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM alerts WHERE recipient_id = ? AND instrument = ?`, recipientID, instrument)
	if err != nil {
		return 0, fmt.Errorf("failed to remove alerts for %s: %w", instrument, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteAlert deletes one alert by id. It reports whether a row existed.
func (s *Storage) DeleteAlert(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete alert %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListAlerts returns a recipient's alerts ordered by instrument then creation.
func (s *Storage) ListAlerts(recipientID int64) ([]models.Alert, error) {
	return s.queryAlerts(`
		SELECT id, recipient_id, instrument, target_price, created_at
		FROM alerts WHERE recipient_id = ? ORDER BY instrument, created_at, id`,
		recipientID,
	)
}

// ActiveAlerts returns the alerts of all active recipients.
func (s *Storage) ActiveAlerts() ([]models.Alert, error) {
	return s.queryAlerts(`
		SELECT a.id, a.recipient_id, a.instrument, a.target_price, a.created_at
		FROM alerts a JOIN recipients r ON r.id = a.recipient_id
		WHERE r.active = 1
		ORDER BY a.recipient_id, a.instrument, a.created_at, a.id`)
}

func (s *Storage) queryAlerts(query string, args ...any) ([]models.Alert, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			a       models.Alert
			created int64
		)
		if err := rows.Scan(&a.ID, &a.RecipientID, &a.Instrument, &a.TargetPrice, &created); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.CreatedAt = time.Unix(created, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}
