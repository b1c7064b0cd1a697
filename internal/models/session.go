package models

import "time"

// Session is the per-user conversation state handed to the AI client.
type Session struct {
	ID           string     `json:"id"`
	Owner        UserID     `json:"owner"`
	History      []*Message `json:"history"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
}

// Clone returns a deep copy so callers never share history with the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = make([]*Message, 0, len(s.History))
	for _, msg := range s.History {
		if msg == nil {
			continue
		}
		m := *msg
		c.History = append(c.History, &m)
	}
	return &c
}
