package domain

import "time"

type ProposalStatus string

const (
	ProposalActive  ProposalStatus = "active"
	ProposalSuccess ProposalStatus = "success"
	ProposalFailed  ProposalStatus = "failed"
	ProposalExpired ProposalStatus = "expired"
)

func (s ProposalStatus) Terminal() bool { return s != ProposalActive }

type VoteChoice string

const (
	VoteYes VoteChoice = "yes"
	VoteNo  VoteChoice = "no"
)

func ParseVoteChoice(s string) (VoteChoice, error) {
	switch VoteChoice(s) {
	case VoteYes, VoteNo:
		return VoteChoice(s), nil
	default:
		return "", ErrInvalidChoice
	}
}

// Proposal is the public view of a collective action. Voter identities stay inside the manager.
type Proposal struct {
	ID        string         `json:"id"`
	Room      string         `json:"room,omitempty"`
	Action    string         `json:"action"`
	Proposer  string         `json:"proposer"`
	YesVotes  int            `json:"yesVotes"`
	NoVotes   int            `json:"noVotes"`
	Status    ProposalStatus `json:"status"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Version   uint64         `json:"version"`
}

// ProposalTally is the proposal.updated payload.
type ProposalTally struct {
	YesVotes int `json:"yesVotes"`
	NoVotes  int `json:"noVotes"`
}

// ProposalOutcome is the proposal.resolved payload and the ledger record.
type ProposalOutcome struct {
	ProposalID string         `json:"proposalId"`
	Room       string         `json:"room,omitempty"`
	Action     string         `json:"action"`
	Status     ProposalStatus `json:"status"`
	YesVotes   int            `json:"yesVotes"`
	NoVotes    int            `json:"noVotes"`
	Early      bool           `json:"early"`
	ResolvedAt time.Time      `json:"resolvedAt"`
}
