package bot

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Command
	}{
		{"", Live{}},
		{"   ", Live{}},
		{"/start", Start{}},
		{"/START", Start{}},
		{"/start@MarketPulseBot", Start{}},
		{"/stop", Stop{}},
		{"/help", Help{}},
		{"/portfolio", Portfolio{}},
		{"/live", Live{}},
		{"/alert_list", AlertList{}},
		{"/remove abcd", Remove{Symbol: "ABCD"}},
		{"/remove", Malformed{Usage: UsageRemove}},
		{"/remove_alert xyz", RemoveAlert{Symbol: "XYZ"}},
		{"/remove_alert", Malformed{Usage: UsageRemoveAlert}},
		{"/alert XYZ 50.00", Alert{Symbol: "XYZ", Price: 50}},
		{"/alert XYZ 12,5", Alert{Symbol: "XYZ", Price: 12.5}},
		{"/alert XYZ", Malformed{Usage: UsageAlert}},
		{"/alert XYZ abc", Malformed{Usage: UsageAlert}},
		{"/alert XYZ -3", Malformed{Usage: UsageAlert}},
		{"/alert XYZ 0", Malformed{Usage: UsageAlert}},
		{"/alert XYZ 5 6", Malformed{Usage: UsageAlert}},
		{"/add ABCD", Malformed{Usage: UsageAdd}},
		{"/add ABCD ten", Malformed{Usage: UsageAdd}},
		{"/add ABCD 0", Malformed{Usage: UsageAdd}},
		{"/unknown", Help{}},
		{"thyao", Quote{Symbol: "THYAO"}},
		{"  aapl  ", Quote{Symbol: "AAPL"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Parse(tt.input), "Parse(%q)", tt.input)
	}
}

func TestParseAddQuantity(t *testing.T) {
	cmd, ok := Parse("/add abcd 10").(Add)
	if assert.True(t, ok) {
		assert.Equal(t, "ABCD", cmd.Symbol)
		assert.True(t, cmd.Quantity.Equal(decimal.NewFromInt(10)))
	}

	cmd, ok = Parse("/add ABCD -2.5").(Add)
	if assert.True(t, ok) {
		assert.True(t, cmd.Quantity.Equal(decimal.RequireFromString("-2.5")))
	}
}
