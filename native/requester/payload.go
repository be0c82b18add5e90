package requester

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	oerrors "fporacle/core/errors"
	"fporacle/core/types"
)

// Source is an external endpoint a resolver should consult.
type Source struct {
	EndPoint   string `json:"end_point"`
	SourcePath string `json:"source_path"`
}

// DataType is either String or Number with a multiplier.
type DataType struct {
	Number *big.Int
}

func (d DataType) MarshalJSON() ([]byte, error) {
	if d.Number == nil {
		return []byte(`"String"`), nil
	}
	return json.Marshal(map[string]string{"Number": d.Number.String()})
}

func (d *DataType) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "String" {
			return fmt.Errorf("unknown data type %q", tag)
		}
		*d = DataType{}
		return nil
	}
	key, raw, err := singleKey(data)
	if err != nil {
		return err
	}
	if key != "Number" {
		return fmt.Errorf("unknown data type %q", key)
	}
	var multiplier string
	if err := json.Unmarshal(raw, &multiplier); err != nil {
		return err
	}
	v, err := types.ParseAmount(multiplier)
	if err != nil {
		return err
	}
	*d = DataType{Number: v}
	return nil
}

// Uint64String is a uint64 carried as a decimal string on the wire.
type Uint64String uint64

func (u Uint64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *Uint64String) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return err
	}
	*u = Uint64String(v)
	return nil
}

// NewDataRequestArgs describes a request to be resolved by the oracle.
type NewDataRequestArgs struct {
	Sources         []Source        `json:"sources,omitempty"`
	Tags            []string        `json:"tags"`
	Description     *string         `json:"description,omitempty"`
	Outcomes        []string        `json:"outcomes,omitempty"`
	ChallengePeriod Uint64String    `json:"challenge_period"`
	DataType        DataType        `json:"data_type"`
	Provider        types.AccountID `json:"provider,omitempty"`
}

// StakeDataRequestArgs stakes on an outcome of an existing request.
type StakeDataRequestArgs struct {
	ID      Uint64String `json:"id"`
	Outcome Outcome      `json:"outcome"`
}

// Payload is the message attached to a deposit notification. Exactly one
// variant is set.
type Payload struct {
	NewDataRequest   *NewDataRequestArgs
	StakeDataRequest *StakeDataRequestArgs
}

func (p Payload) MarshalJSON() ([]byte, error) {
	switch {
	case p.NewDataRequest != nil && p.StakeDataRequest == nil:
		return json.Marshal(map[string]*NewDataRequestArgs{"NewDataRequest": p.NewDataRequest})
	case p.StakeDataRequest != nil && p.NewDataRequest == nil:
		return json.Marshal(map[string]*StakeDataRequestArgs{"StakeDataRequest": p.StakeDataRequest})
	default:
		return nil, fmt.Errorf("payload must hold exactly one variant")
	}
}

// ParsePayload decodes a deposit-notification message by its discriminant.
func ParsePayload(msg []byte) (Payload, error) {
	key, raw, err := singleKey(msg)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: payload: %v", oerrors.ErrValidation, err)
	}
	switch key {
	case "NewDataRequest":
		var args NewDataRequestArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return Payload{}, fmt.Errorf("%w: NewDataRequest: %v", oerrors.ErrValidation, err)
		}
		return Payload{NewDataRequest: &args}, nil
	case "StakeDataRequest":
		var args StakeDataRequestArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return Payload{}, fmt.Errorf("%w: StakeDataRequest: %v", oerrors.ErrValidation, err)
		}
		return Payload{StakeDataRequest: &args}, nil
	default:
		return Payload{}, fmt.Errorf("%w: unknown payload variant %q", oerrors.ErrValidation, key)
	}
}
