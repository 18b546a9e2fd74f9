package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"github.com/stretchr/testify/assert"
)

type edge struct {
	from models.ConeStatus
	to   models.ConeStatus
}

func allowedConeEdges() map[edge]bool {
	allowed := map[edge]bool{
		{models.ConeStatusReceived, models.ConeStatusInspected}:           true,
		{models.ConeStatusInspected, models.ConeStatusAvailable}:          true,
		{models.ConeStatusAvailable, models.ConeStatusSoftAllocated}:      true,
		{models.ConeStatusAvailable, models.ConeStatusQuarantine}:         true,
		{models.ConeStatusSoftAllocated, models.ConeStatusHardAllocated}:  true,
		{models.ConeStatusSoftAllocated, models.ConeStatusAvailable}:      true,
		{models.ConeStatusHardAllocated, models.ConeStatusInProduction}:   true,
		{models.ConeStatusHardAllocated, models.ConeStatusAvailable}:      true,
		{models.ConeStatusInProduction, models.ConeStatusPartialReturn}:   true,
		{models.ConeStatusInProduction, models.ConeStatusConsumed}:        true,
		{models.ConeStatusPartialReturn, models.ConeStatusPendingWeigh}:   true,
		{models.ConeStatusPartialReturn, models.ConeStatusInProduction}:   true,
		{models.ConeStatusPendingWeigh, models.ConeStatusAvailable}:       true,
		{models.ConeStatusPendingWeigh, models.ConeStatusInProduction}:    true,
		{models.ConeStatusQuarantine, models.ConeStatusAvailable}:         true,
	}
	for _, s := range models.AllConeStatuses {
		if !s.IsTerminal() {
			allowed[edge{s, models.ConeStatusWrittenOff}] = true
		}
	}
	return allowed
}

func TestCanTransitionCone_Exhaustive(t *testing.T) {
	allowed := allowedConeEdges()
	for _, from := range models.AllConeStatuses {
		for _, to := range models.AllConeStatuses {
			want := allowed[edge{from, to}]
			assert.Equalf(t, want, models.CanTransitionCone(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransitionCone_TerminalStatusesHaveNoExit(t *testing.T) {
	for _, terminal := range []models.ConeStatus{models.ConeStatusConsumed, models.ConeStatusWrittenOff} {
		assert.Empty(t, models.ValidConeTransitions(terminal), terminal)
	}
}

func TestValidConeTransitions_ReturnsCopy(t *testing.T) {
	next := models.ValidConeTransitions(models.ConeStatusAvailable)
	next[0] = models.ConeStatusConsumed
	assert.False(t, models.CanTransitionCone(models.ConeStatusAvailable, models.ConeStatusConsumed))
}

func TestCanTransitionCone_UnknownStatus(t *testing.T) {
	assert.False(t, models.CanTransitionCone("BOGUS", models.ConeStatusAvailable))
	assert.False(t, models.CanTransitionCone(models.ConeStatusAvailable, "BOGUS"))
}

func TestCanTransitionAllocation_Flows(t *testing.T) {
	cases := []struct {
		from, to  models.AllocationStatus
		isRequest bool
		want      bool
	}{
		{models.AllocationStatusPending, models.AllocationStatusSoft, false, true},
		{models.AllocationStatusPending, models.AllocationStatusSoft, true, false},
		{models.AllocationStatusPending, models.AllocationStatusApproved, true, true},
		{models.AllocationStatusPending, models.AllocationStatusApproved, false, false},
		{models.AllocationStatusPending, models.AllocationStatusCancelled, true, true},
		{models.AllocationStatusPending, models.AllocationStatusCancelled, false, true},
		{models.AllocationStatusSoft, models.AllocationStatusHard, false, true},
		{models.AllocationStatusHard, models.AllocationStatusIssued, false, true},
		{models.AllocationStatusIssued, models.AllocationStatusCancelled, false, false},
		{models.AllocationStatusCancelled, models.AllocationStatusPending, false, false},
		{models.AllocationStatusApproved, models.AllocationStatusReadyForPickup, true, true},
		{models.AllocationStatusReadyForPickup, models.AllocationStatusReceived, true, true},
		{models.AllocationStatusReceived, models.AllocationStatusCancelled, true, false},
		{models.AllocationStatusApproved, models.AllocationStatusRejected, true, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, models.CanTransitionAllocation(c.from, c.to, c.isRequest),
			"%s -> %s request=%v", c.from, c.to, c.isRequest)
	}
}
