package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pscheid92/crowdpulse/internal/domain"
)

type ActivateArgs struct {
	Emotion string `json:"emotion"`
}

// CreatePoolArgs takes either an absolute EndTime or a DurationSeconds from now.
// On a websocket an empty Room means the connection's room.
type CreatePoolArgs struct {
	Room            string     `json:"room,omitempty"`
	Question        string     `json:"question"`
	Options         []string   `json:"options"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationSeconds int        `json:"durationSeconds,omitempty"`
}

type StakeArgs struct {
	PoolID string `json:"poolId"`
	Option string `json:"option"`
	Amount int64  `json:"amount"`
}

type ResolveArgs struct {
	PoolID        string `json:"poolId"`
	WinningOption string `json:"winningOption,omitempty"`
}

type ProposeArgs struct {
	Room            string     `json:"room,omitempty"`
	Action          string     `json:"action"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationSeconds int        `json:"durationSeconds,omitempty"`
}

type VoteArgs struct {
	ProposalID string `json:"proposalId"`
	Choice     string `json:"choice"`
}

// Execute runs cmd as the user bound to connID. Failures come back as a
// Fault carrying the error code; nothing is retried.
func (s *Service) Execute(ctx context.Context, connID string, cmd domain.Command) domain.Reply {
	reply := domain.Reply{Kind: "reply", RequestID: cmd.RequestID}

	result, err := s.execute(ctx, connID, cmd)
	if err != nil {
		code := domain.Code(err)
		if code == "internal" {
			slog.ErrorContext(ctx, "Command failed", "kind", cmd.Kind, "connection_id", connID, "error", err)
		}
		reply.Error = &domain.Fault{Code: code, Message: err.Error()}
		return reply
	}

	reply.OK = true
	reply.Result = result
	return reply
}

func (s *Service) execute(ctx context.Context, connID string, cmd domain.Command) (any, error) {
	sess, err := s.sessions.Lookup(connID)
	if err != nil {
		return nil, err
	}
	identity := sess.Identity()

	switch cmd.Kind {
	case domain.CommandActivateEmotion:
		args, err := decodeArgs[ActivateArgs](cmd.Args)
		if err != nil {
			return nil, err
		}
		return s.ActivateEmotion(ctx, identity, args.Emotion)

	case domain.CommandCreatePool:
		args, err := decodeArgs[CreatePoolArgs](cmd.Args)
		if err != nil {
			return nil, err
		}
		if args.Room == "" {
			args.Room = sess.Room
		}
		return s.CreatePool(ctx, identity, args)

	case domain.CommandPlaceStake:
		args, err := decodeArgs[StakeArgs](cmd.Args)
		if err != nil {
			return nil, err
		}
		return s.PlaceStake(ctx, identity, args)

	case domain.CommandClosePool:
		args, err := decodeArgs[ResolveArgs](cmd.Args)
		if err != nil {
			return nil, err
		}
		return s.ClosePool(ctx, identity, args)

	case domain.CommandResolvePool:
		args, err := decodeArgs[ResolveArgs](cmd.Args)
		if err != nil {
			return nil, err
		}
		return s.ResolvePool(ctx, identity, args)

	case domain.CommandPropose:
		args, err := decodeArgs[ProposeArgs](cmd.Args)
		if err != nil {
			return nil, err
		}
		if args.Room == "" {
			args.Room = sess.Room
		}
		return s.Propose(ctx, identity, args)

	case domain.CommandVote:
		args, err := decodeArgs[VoteArgs](cmd.Args)
		if err != nil {
			return nil, err
		}
		return s.Vote(ctx, identity, args)

	case domain.CommandSnapshot:
		return s.readSnapshot(sess.Room), nil

	default:
		return nil, domain.Invalid("unknown command %q", cmd.Kind)
	}
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var args T
	if len(bytes.TrimSpace(raw)) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, domain.Invalid("malformed args: %v", err)
	}
	return args, nil
}
