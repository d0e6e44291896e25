package amount

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "12", want: 12 * Scale},
		{in: "0.25", want: 250_000},
		{in: ".5", want: 500_000},
		{in: "-3.000001", want: -3_000_001},
		{in: "1.0000001", wantErr: true},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "+-1", wantErr: true},
		{in: "1.-5", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringAndFormat(t *testing.T) {
	assert.Equal(t, "12.5", MustParse("12.500").String())
	assert.Equal(t, "-0.000001", Amount(-1).String())
	assert.Equal(t, "7", FromCredits(7).String())
	assert.Equal(t, "0.13", MustParse("0.125").Format(2))
	assert.Equal(t, "3", MustParse("2.5").Format(0))
	assert.Equal(t, "10.00", FromCredits(10).Format(2))
}

func TestManySmallDebitsDoNotDrift(t *testing.T) {
	balance := FromCredits(1)
	step := MustParse("0.001")
	for i := 0; i < 1000; i++ {
		var err error
		balance, err = balance.Sub(step)
		require.NoError(t, err)
	}
	assert.True(t, balance.IsZero())
}

func TestMulDivRoundsHalfUp(t *testing.T) {
	assert.Equal(t, Amount(1), MulDiv(1, 1, 2))
	assert.Equal(t, Amount(0), MulDiv(1, 1, 3))
	assert.Equal(t, Amount(750_000), MulDiv(FromFloat(1.5), 500, 1000))
}

func TestCeilCredits(t *testing.T) {
	assert.Equal(t, FromCredits(1), MustParse("0.2").CeilCredits())
	assert.Equal(t, FromCredits(2), FromCredits(2).CeilCredits())
	assert.Equal(t, Zero, Zero.CeilCredits())
}

func TestJSONRoundTripAcceptsStringsAndNumbers(t *testing.T) {
	var payload struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 1.75, "b": "0.5"}`), &payload))
	assert.Equal(t, MustParse("1.75"), payload.A)
	assert.Equal(t, MustParse("0.5"), payload.B)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1.75, "b": 0.5}`, string(out))
}
