package requester

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcomeWireFormat(t *testing.T) {
	num, err := json.Marshal(NumberOutcome(big.NewInt(400000), big.NewInt(100), false))
	require.NoError(t, err)
	require.JSONEq(t, `{"Answer":{"Number":{"value":"400000","multiplier":"100","negative":false}}}`, string(num))

	invalid, err := json.Marshal(InvalidOutcome())
	require.NoError(t, err)
	require.Equal(t, `"Invalid"`, string(invalid))

	parsed, err := ParseOutcome(num)
	require.NoError(t, err)
	require.Equal(t, "400000", parsed.Answer.Number.Value.String())

	parsed, err = ParseOutcome([]byte(`{"Answer":{"String":"yes"}}`))
	require.NoError(t, err)
	require.Equal(t, "yes", *parsed.Answer.String)

	_, err = ParseOutcome([]byte(`"Maybe"`))
	require.Error(t, err)
	_, err = ParseOutcome([]byte(`{"Answer":{"Number":{"value":"1","multiplier":"0","negative":false}}}`))
	require.Error(t, err)
	_, err = json.Marshal(Outcome{})
	require.Error(t, err)
}

func TestDataTypeWireFormat(t *testing.T) {
	var args NewDataRequestArgs
	require.NoError(t, json.Unmarshal([]byte(`{"tags":[],"challenge_period":"5","data_type":{"Number":"1000"}}`), &args))
	require.Equal(t, "1000", args.DataType.Number.String())
	require.Equal(t, Uint64String(5), args.ChallengePeriod)

	out, err := json.Marshal(DataType{})
	require.NoError(t, err)
	require.Equal(t, `"String"`, string(out))
}
