package models

import (
	"fmt"

	"bitbucket.org/mmdatafocus/thread_backend/utils"
)

type allocationFlow int

const (
	flowAny allocationFlow = iota
	flowDirect
	flowRequest
)

type allocationEdge struct {
	from AllocationStatus
	to   AllocationStatus
	flow allocationFlow
}

// Direct allocations reserve and issue against an order. Requests are raised by a
// warehouse, approved, staged for pickup and confirmed on receipt.
var allocationEdges = []allocationEdge{
	{AllocationStatusPending, AllocationStatusSoft, flowDirect},
	{AllocationStatusPending, AllocationStatusWaitlisted, flowDirect},
	{AllocationStatusPending, AllocationStatusCancelled, flowAny},
	{AllocationStatusWaitlisted, AllocationStatusSoft, flowDirect},
	{AllocationStatusWaitlisted, AllocationStatusCancelled, flowDirect},
	{AllocationStatusSoft, AllocationStatusHard, flowDirect},
	{AllocationStatusSoft, AllocationStatusIssued, flowDirect},
	{AllocationStatusSoft, AllocationStatusWaitlisted, flowDirect},
	{AllocationStatusSoft, AllocationStatusPending, flowDirect},
	{AllocationStatusSoft, AllocationStatusCancelled, flowDirect},
	{AllocationStatusHard, AllocationStatusIssued, flowDirect},
	{AllocationStatusHard, AllocationStatusWaitlisted, flowDirect},
	{AllocationStatusHard, AllocationStatusPending, flowDirect},
	{AllocationStatusHard, AllocationStatusCancelled, flowDirect},

	{AllocationStatusPending, AllocationStatusApproved, flowRequest},
	{AllocationStatusPending, AllocationStatusRejected, flowRequest},
	{AllocationStatusApproved, AllocationStatusReadyForPickup, flowRequest},
	{AllocationStatusApproved, AllocationStatusCancelled, flowRequest},
	{AllocationStatusReadyForPickup, AllocationStatusReceived, flowRequest},
	{AllocationStatusReadyForPickup, AllocationStatusCancelled, flowRequest},
}

// CanTransitionAllocation reports whether an allocation of the given flow may move from one
// status to another.
func CanTransitionAllocation(from AllocationStatus, to AllocationStatus, isRequest bool) bool {
	for _, edge := range allocationEdges {
		if edge.from != from || edge.to != to {
			continue
		}
		switch edge.flow {
		case flowAny:
			return true
		case flowDirect:
			return !isRequest
		case flowRequest:
			return isRequest
		}
	}
	return false
}

func (a *Allocation) checkTransition(to AllocationStatus) error {
	if CanTransitionAllocation(a.Status, to, a.IsRequest()) {
		return nil
	}
	return utils.NewConflictError(fmt.Sprintf("allocation cannot move from %s to %s", a.Status, to), fmt.Sprint(a.ID))
}
