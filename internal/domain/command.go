package domain

import "encoding/json"

type CommandKind string

const (
	CommandActivateEmotion CommandKind = "emotion.activate"
	CommandCreatePool      CommandKind = "pool.create"
	CommandPlaceStake      CommandKind = "pool.stake"
	CommandClosePool       CommandKind = "pool.close"
	CommandResolvePool     CommandKind = "pool.resolve"
	CommandPropose         CommandKind = "proposal.create"
	CommandVote            CommandKind = "proposal.vote"
	CommandSnapshot        CommandKind = "snapshot"
)

// Command is the inbound wire shape. The acting user comes from the session,
// never from the payload.
type Command struct {
	Kind      CommandKind     `json:"kind"`
	RequestID string          `json:"requestId,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Reply answers a Command on the same connection.
type Reply struct {
	Kind      string `json:"kind"`
	RequestID string `json:"requestId,omitempty"`
	OK        bool   `json:"ok"`
	Result    any    `json:"result,omitempty"`
	Error     *Fault `json:"error,omitempty"`
}

// Fault is the error body of a rejected command.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
