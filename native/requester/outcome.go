package requester

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	oerrors "fporacle/core/errors"
	"fporacle/core/types"
)

// AnswerNumber is a signed fixed-point answer: Value / Multiplier.
type AnswerNumber struct {
	Value      *big.Int
	Multiplier *big.Int
	Negative   bool
}

type answerNumberWire struct {
	Value      string `json:"value"`
	Multiplier string `json:"multiplier"`
	Negative   bool   `json:"negative"`
}

func (n AnswerNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(answerNumberWire{
		Value:      types.CloneAmount(n.Value).String(),
		Multiplier: types.CloneAmount(n.Multiplier).String(),
		Negative:   n.Negative,
	})
}

func (n *AnswerNumber) UnmarshalJSON(data []byte) error {
	var wire answerNumberWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	value, err := types.ParseAmount(wire.Value)
	if err != nil {
		return err
	}
	multiplier, err := types.ParseAmount(wire.Multiplier)
	if err != nil {
		return err
	}
	if multiplier.Sign() == 0 {
		return fmt.Errorf("answer multiplier must be positive")
	}
	*n = AnswerNumber{Value: value, Multiplier: multiplier, Negative: wire.Negative}
	return nil
}

// Answer holds exactly one of Number or String.
type Answer struct {
	Number *AnswerNumber
	String *string
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch {
	case a.Number != nil && a.String == nil:
		return json.Marshal(map[string]*AnswerNumber{"Number": a.Number})
	case a.String != nil && a.Number == nil:
		return json.Marshal(map[string]string{"String": *a.String})
	default:
		return nil, fmt.Errorf("answer must hold exactly one of Number or String")
	}
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	key, raw, err := singleKey(data)
	if err != nil {
		return err
	}
	switch key {
	case "Number":
		var n AnswerNumber
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		*a = Answer{Number: &n}
	case "String":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*a = Answer{String: &s}
	default:
		return fmt.Errorf("unknown answer type %q", key)
	}
	return nil
}

// Outcome is the finalized answer of a data request: an Answer or Invalid.
type Outcome struct {
	Answer  *Answer
	Invalid bool
}

// NumberOutcome builds a numeric answer.
func NumberOutcome(value, multiplier *big.Int, negative bool) Outcome {
	return Outcome{Answer: &Answer{Number: &AnswerNumber{Value: value, Multiplier: multiplier, Negative: negative}}}
}

// StringOutcome builds a string answer.
func StringOutcome(s string) Outcome {
	return Outcome{Answer: &Answer{String: &s}}
}

// InvalidOutcome marks the request as unanswerable.
func InvalidOutcome() Outcome { return Outcome{Invalid: true} }

func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Invalid {
		if o.Answer != nil {
			return nil, fmt.Errorf("outcome cannot be both Invalid and an Answer")
		}
		return []byte(`"Invalid"`), nil
	}
	if o.Answer == nil {
		return nil, fmt.Errorf("outcome requires an Answer")
	}
	return json.Marshal(map[string]*Answer{"Answer": o.Answer})
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return err
		}
		if tag != "Invalid" {
			return fmt.Errorf("unknown outcome %q", tag)
		}
		*o = InvalidOutcome()
		return nil
	}
	key, raw, err := singleKey(trimmed)
	if err != nil {
		return err
	}
	if key != "Answer" {
		return fmt.Errorf("unknown outcome %q", key)
	}
	var answer Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}
	*o = Outcome{Answer: &answer}
	return nil
}

// ParseOutcome decodes an outcome from its wire form.
func ParseOutcome(data []byte) (Outcome, error) {
	var out Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return Outcome{}, fmt.Errorf("%w: outcome: %v", oerrors.ErrValidation, err)
	}
	return out, nil
}

// singleKey decodes an object that must carry exactly one discriminant key.
func singleKey(data []byte) (string, json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant, got %d", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, nil
}
