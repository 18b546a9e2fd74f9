package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStrictAllocationSupply(t *testing.T) {
	t.Setenv("STRICT_ALLOCATION_SUPPLY", "")
	assert.False(t, StrictAllocationSupply())
	t.Setenv("STRICT_ALLOCATION_SUPPLY", " Yes ")
	assert.True(t, StrictAllocationSupply())
}

func TestDecimalFlags(t *testing.T) {
	t.Setenv("DEFAULT_METERS_PER_CONE", "")
	assert.True(t, decimal.NewFromInt(5000).Equal(DefaultMetersPerCone()))
	t.Setenv("DEFAULT_METERS_PER_CONE", "3200.5")
	assert.True(t, decimal.RequireFromString("3200.5").Equal(DefaultMetersPerCone()))

	t.Setenv("MIN_RECOVERY_WEIGHT_GRAMS", "-1")
	assert.True(t, decimal.NewFromInt(50).Equal(MinRecoveryWeightGrams()))
	t.Setenv("MIN_RECOVERY_WEIGHT_GRAMS", "abc")
	assert.True(t, decimal.NewFromInt(50).Equal(MinRecoveryWeightGrams()))
}

func TestNotifyChannels(t *testing.T) {
	t.Setenv("NOTIFY_CHANNELS", "")
	assert.Equal(t, []string{"log"}, NotifyChannels())
	t.Setenv("NOTIFY_CHANNELS", "PubSub, ,email")
	assert.Equal(t, []string{"pubsub", "email"}, NotifyChannels())
}
