package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]Amount{
		"10":     1000,
		"10.5":   1050,
		"10.00":  1000,
		"0.01":   1,
		"-2.25":  -225,
		" 7.10 ": 710,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseRejectsRounding(t *testing.T) {
	for _, in := range []string{"", "1.234", "1.", ".5", "abc", "1.-5", "99999999999999999999"} {
		_, err := Parse(in)
		require.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestString(t *testing.T) {
	require.Equal(t, "10.00", Amount(1000).String())
	require.Equal(t, "0.05", Amount(5).String())
	require.Equal(t, "-1.50", Amount(-150).String())
}

func TestJSON(t *testing.T) {
	type payload struct {
		Amount Amount `json:"amount"`
	}

	b, err := json.Marshal(payload{Amount: 1000})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"10.00"}`, string(b))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":12.5}`), &p))
	require.Equal(t, Amount(1250), p.Amount)

	require.Error(t, json.Unmarshal([]byte(`{"amount":"1.999"}`), &p))
}
