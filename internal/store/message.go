package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

// InsertMessage stores a message and returns the stored row. A repeated
// (sender, client_msg_id) pair returns the existing row with created=false.
func (db *DB) InsertMessage(sender, text, clientMsgID string) (row Row, created bool, err error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (sender, text, client_msg_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sender, client_msg_id) WHERE client_msg_id <> '' DO NOTHING`,
		sender, text, clientMsgID, now)
	if err != nil {
		return Row{}, false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Row{}, false, err
	}
	if n == 0 {
		row, err := db.messageByToken(sender, clientMsgID)
		return row, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Row{}, false, err
	}
	return Row{ID: id, Sender: sender, Text: text, ClientMsgID: clientMsgID, CreatedAt: now}, true, nil
}

// GetMessage returns the message with the given id.
func (db *DB) GetMessage(id int64) (Row, error) {
	return scanRow(db.QueryRow(`
		SELECT id, sender, text, client_msg_id, created_at
		FROM messages WHERE id = ?`, id))
}

func (db *DB) messageByToken(sender, clientMsgID string) (Row, error) {
	return scanRow(db.QueryRow(`
		SELECT id, sender, text, client_msg_id, created_at
		FROM messages WHERE sender = ? AND client_msg_id = ?`, sender, clientMsgID))
}

// ListMessages returns up to limit messages older than beforeID, oldest
// first. A zero beforeID selects the most recent messages.
func (db *DB) ListMessages(beforeID int64, limit int) ([]Row, error) {
	limit = ClampLimit(limit)
	query := `
		SELECT id, sender, text, client_msg_id, created_at
		FROM messages
		ORDER BY id DESC
		LIMIT ?`
	args := []any{limit}
	if beforeID > 0 {
		query = `
		SELECT id, sender, text, client_msg_id, created_at
		FROM messages
		WHERE id < ?
		ORDER BY id DESC
		LIMIT ?`
		args = []any{beforeID, limit}
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]Row, 0, limit)
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Sender, &r.Text, &r.ClientMsgID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountMessages returns the number of stored messages.
func (db *DB) CountMessages() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanRow(row *sql.Row) (Row, error) {
	var r Row
	err := row.Scan(&r.ID, &r.Sender, &r.Text, &r.ClientMsgID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	return r, err
}
