package requester

import (
	"fmt"
	"math/big"

	"fporacle/core/types"
)

// Status is the lifecycle state of a data request.
type Status uint8

const (
	StatusPending Status = iota
	StatusFinalized
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusFinalized:
		return "Finalized"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Pending":
		*s = StatusPending
	case "Finalized":
		*s = StatusFinalized
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// DataRequestDetails is the persisted record of a data request. Outcome is set
// once Status is Finalized.
type DataRequestDetails struct {
	ID            uint64             `json:"id"`
	Amount        *big.Int           `json:"amount"`
	Payload       NewDataRequestArgs `json:"payload"`
	Tags          []string           `json:"tags"`
	Status        Status             `json:"status"`
	Outcome       *Outcome           `json:"outcome,omitempty"`
	Creator       types.AccountID    `json:"creator"`
	BondWithdrawn bool               `json:"bond_withdrawn"`
}

// Clone returns a deep copy sufficient for callers to mutate safely.
func (d *DataRequestDetails) Clone() *DataRequestDetails {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Amount = types.CloneAmount(d.Amount)
	clone.Tags = append([]string(nil), d.Tags...)
	clone.Payload.Tags = append([]string(nil), d.Payload.Tags...)
	if d.Outcome != nil {
		out := *d.Outcome
		clone.Outcome = &out
	}
	return &clone
}

// Config wires the coordinator to its collaborators.
type Config struct {
	// Self is the account of the requester program.
	Self         types.AccountID
	Oracle       types.AccountID
	PaymentToken types.AccountID
	StakeToken   types.AccountID
	// Whitelist restricts request creation when non-empty.
	Whitelist []types.AccountID
}

// StakeArgs travels with a forwarded stake to its callback.
type StakeArgs struct {
	Staker    types.AccountID `json:"staker"`
	RequestID uint64          `json:"request_id"`
	Amount    string          `json:"amount"`
}
