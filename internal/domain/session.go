package domain

import "time"

// Identity is what the identity provider vouches for.
type Identity struct {
	UserID string
	Admin  bool
}

type Session struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Admin        bool      `json:"-"`
	Room         string    `json:"room,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}

func (s Session) Identity() Identity {
	return Identity{UserID: s.UserID, Admin: s.Admin}
}

// Presence is the crowd.presence payload.
type Presence struct {
	Spectators  int `json:"spectators"`
	Connections int `json:"connections"`
}

// IdleNotice is the session.idle payload: the connection closes at
// DisconnectAt unless the client shows a sign of life first.
type IdleNotice struct {
	DisconnectAt time.Time `json:"disconnectAt"`
}

// Snapshot is the full state a late joiner pulls before following deltas.
type Snapshot struct {
	Emotions   EmotionAggregate `json:"emotions"`
	Pools      []Pool           `json:"pools"`
	Proposals  []Proposal       `json:"proposals"`
	Presence   Presence         `json:"presence"`
	ServerTime time.Time        `json:"serverTime"`
}
