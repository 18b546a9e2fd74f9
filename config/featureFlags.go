package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// StrictAllocationSupply makes a reservation that cannot be fully covered fail with
// InsufficientSupply instead of partially filling or waitlisting.
//
// Set via env:
// - STRICT_ALLOCATION_SUPPLY=true
func StrictAllocationSupply() bool {
	return boolFromEnv("STRICT_ALLOCATION_SUPPLY")
}

// MinRecoveryWeightGrams is the net thread weight below which a weighed return is flagged for write-off.
//
// Set via env:
// - MIN_RECOVERY_WEIGHT_GRAMS (default 50)
func MinRecoveryWeightGrams() decimal.Decimal {
	return decimalFromEnv("MIN_RECOVERY_WEIGHT_GRAMS", decimal.NewFromInt(50))
}

// DefaultMetersPerCone is used on receive when neither the request nor the thread type carries a length.
//
// Set via env:
// - DEFAULT_METERS_PER_CONE (default 5000)
func DefaultMetersPerCone() decimal.Decimal {
	return decimalFromEnv("DEFAULT_METERS_PER_CONE", decimal.NewFromInt(5000))
}

// NotifyChannels lists the enabled notification channels, e.g. "pubsub,email".
// Defaults to "log" so a bare environment never reaches out to external services.
func NotifyChannels() []string {
	raw := os.Getenv("NOTIFY_CHANNELS")
	if strings.TrimSpace(raw) == "" {
		return []string{"log"}
	}
	var channels []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			channels = append(channels, p)
		}
	}
	return channels
}

// NotifyRecipients is the default recipient list (warehouse managers) for engine notifications.
func NotifyRecipients() []string {
	var recipients []string
	for _, part := range strings.Split(os.Getenv("NOTIFY_RECIPIENTS"), ",") {
		if p := strings.TrimSpace(part); p != "" {
			recipients = append(recipients, p)
		}
	}
	return recipients
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}
