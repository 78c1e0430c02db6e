package store

import "fmt"

// DebugMessage is one entry in the operator-facing debug ring.
type DebugMessage struct {
	MessageID int64  `json:"message_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// AddDebugMessage appends one message to the debug ring.
func (s *Store) AddDebugMessage(message string) error {
	if _, err := s.db.Exec(`INSERT INTO debug_messages (message) VALUES (?)`, message); err != nil {
		return fmt.Errorf("add debug message: %w", err)
	}
	return nil
}

// DebugMessages returns the last n messages in chronological order.
func (s *Store) DebugMessages(n int) ([]DebugMessage, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := s.db.Query(
		`SELECT message_id, message, timestamp FROM debug_messages
		 ORDER BY message_id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query debug messages: %w", err)
	}
	defer rows.Close()

	var out []DebugMessage
	for rows.Next() {
		var m DebugMessage
		if err := rows.Scan(&m.MessageID, &m.Message, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan debug message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers want chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// TrimDebugMessages drops everything but the newest keep messages. Used by
// the manager's janitor to bound the ring.
func (s *Store) TrimDebugMessages(keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(
		`DELETE FROM debug_messages WHERE message_id NOT IN
		 (SELECT message_id FROM debug_messages ORDER BY message_id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("trim debug messages: %w", err)
	}
	return nil
}
