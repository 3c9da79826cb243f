package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Cents
	}{
		{"150", 15000},
		{"150.5", 15050},
		{"150.50", 15050},
		{"0.01", 1},
		{"-3.20", -320},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParse_RejectsSubCent(t *testing.T) {
	_, err := Parse("1.005")
	assert.ErrorIs(t, err, ErrTooPrecise)

	_, err = Parse("abc")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "150.00", Cents(15000).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "-1.20", Cents(-120).String())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, MustParse("50"), MustParse("500").Percent(decimal.NewFromInt(10)))
	// 2.5% of 33.33 = 0.83325 -> 0.83
	assert.Equal(t, Cents(83), MustParse("33.33").Percent(decimal.RequireFromString("2.5")))
	// 1.5% of 1.00 = 0.015 -> 0.02 (half away from zero)
	assert.Equal(t, Cents(2), MustParse("1").Percent(decimal.RequireFromString("1.5")))
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Cents `json:"a"`
	}{A: 12345})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"123.45"}`, string(b))

	var v struct {
		A Cents `json:"a"`
		B Cents `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"10.5","b":7.25}`), &v))
	assert.Equal(t, Cents(1050), v.A)
	assert.Equal(t, Cents(725), v.B)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"0.001"}`), &v))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, Cents(1), Min(1, 2))
	assert.Equal(t, Cents(2), Max(1, 2))
}
