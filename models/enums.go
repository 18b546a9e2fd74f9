package models

type ConeStatus string

const (
	ConeStatusReceived      ConeStatus = "RECEIVED"
	ConeStatusInspected     ConeStatus = "INSPECTED"
	ConeStatusAvailable     ConeStatus = "AVAILABLE"
	ConeStatusSoftAllocated ConeStatus = "SOFT_ALLOCATED"
	ConeStatusHardAllocated ConeStatus = "HARD_ALLOCATED"
	ConeStatusInProduction  ConeStatus = "IN_PRODUCTION"
	ConeStatusPartialReturn ConeStatus = "PARTIAL_RETURN"
	ConeStatusPendingWeigh  ConeStatus = "PENDING_WEIGH"
	ConeStatusConsumed      ConeStatus = "CONSUMED"
	ConeStatusWrittenOff    ConeStatus = "WRITTEN_OFF"
	ConeStatusQuarantine    ConeStatus = "QUARANTINE"
)

var AllConeStatuses = []ConeStatus{
	ConeStatusReceived, ConeStatusInspected, ConeStatusAvailable, ConeStatusSoftAllocated,
	ConeStatusHardAllocated, ConeStatusInProduction, ConeStatusPartialReturn, ConeStatusPendingWeigh,
	ConeStatusConsumed, ConeStatusWrittenOff, ConeStatusQuarantine,
}

func (s ConeStatus) IsValid() bool {
	for _, v := range AllConeStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s ConeStatus) IsTerminal() bool {
	return s == ConeStatusConsumed || s == ConeStatusWrittenOff
}

// usable cones count towards a lot's available_cones
var usableConeStatuses = []ConeStatus{
	ConeStatusReceived, ConeStatusInspected, ConeStatusAvailable, ConeStatusSoftAllocated, ConeStatusHardAllocated,
}

// cones that may be moved between warehouses
var transferableConeStatuses = []ConeStatus{
	ConeStatusReceived, ConeStatusInspected, ConeStatusAvailable,
}

func (s ConeStatus) IsUsable() bool {
	return containsStatus(usableConeStatuses, s)
}

type LotStatus string

const (
	LotStatusActive     LotStatus = "ACTIVE"
	LotStatusDepleted   LotStatus = "DEPLETED"
	LotStatusExpired    LotStatus = "EXPIRED"
	LotStatusQuarantine LotStatus = "QUARANTINE"
)

func (s LotStatus) IsValid() bool {
	switch s {
	case LotStatusActive, LotStatusDepleted, LotStatusExpired, LotStatusQuarantine:
		return true
	}
	return false
}

type AllocationStatus string

const (
	AllocationStatusPending        AllocationStatus = "PENDING"
	AllocationStatusSoft           AllocationStatus = "SOFT"
	AllocationStatusHard           AllocationStatus = "HARD"
	AllocationStatusIssued         AllocationStatus = "ISSUED"
	AllocationStatusCancelled      AllocationStatus = "CANCELLED"
	AllocationStatusWaitlisted     AllocationStatus = "WAITLISTED"
	AllocationStatusApproved       AllocationStatus = "APPROVED"
	AllocationStatusReadyForPickup AllocationStatus = "READY_FOR_PICKUP"
	AllocationStatusReceived       AllocationStatus = "RECEIVED"
	AllocationStatusRejected       AllocationStatus = "REJECTED"
)

// statuses whose requested meters still count as demand
var activeAllocationStatuses = []AllocationStatus{
	AllocationStatusPending, AllocationStatusWaitlisted, AllocationStatusSoft, AllocationStatusHard,
	AllocationStatusApproved, AllocationStatusReadyForPickup,
}

func (s AllocationStatus) IsActive() bool {
	for _, v := range activeAllocationStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s AllocationStatus) IsTerminal() bool {
	switch s {
	case AllocationStatusIssued, AllocationStatusCancelled, AllocationStatusReceived, AllocationStatusRejected:
		return true
	}
	return false
}

type AllocationPriority string

const (
	AllocationPriorityLow    AllocationPriority = "LOW"
	AllocationPriorityNormal AllocationPriority = "NORMAL"
	AllocationPriorityHigh   AllocationPriority = "HIGH"
	AllocationPriorityUrgent AllocationPriority = "URGENT"
)

// Score is the numeric weight used for ordering competing allocations.
func (p AllocationPriority) Score() int {
	switch p {
	case AllocationPriorityUrgent:
		return 100
	case AllocationPriorityHigh:
		return 75
	case AllocationPriorityNormal:
		return 50
	case AllocationPriorityLow:
		return 25
	}
	return 0
}

func (p AllocationPriority) IsValid() bool {
	return p.Score() > 0
}

type ConflictStatus string

const (
	ConflictStatusPending   ConflictStatus = "PENDING"
	ConflictStatusResolved  ConflictStatus = "RESOLVED"
	ConflictStatusEscalated ConflictStatus = "ESCALATED"
)

type ConflictAction string

const (
	ConflictActionAdjustPriority ConflictAction = "ADJUST_PRIORITY"
	ConflictActionCancel         ConflictAction = "CANCEL"
	ConflictActionSplit          ConflictAction = "SPLIT"
	ConflictActionEscalate       ConflictAction = "ESCALATE"
)

type RecoveryStatus string

const (
	RecoveryStatusInitiated    RecoveryStatus = "INITIATED"
	RecoveryStatusPendingWeigh RecoveryStatus = "PENDING_WEIGH"
	RecoveryStatusWeighed      RecoveryStatus = "WEIGHED"
	RecoveryStatusConfirmed    RecoveryStatus = "CONFIRMED"
	RecoveryStatusWrittenOff   RecoveryStatus = "WRITTEN_OFF"
	RecoveryStatusRejected     RecoveryStatus = "REJECTED"
)

func (s RecoveryStatus) IsTerminal() bool {
	return s == RecoveryStatusConfirmed || s == RecoveryStatusWrittenOff || s == RecoveryStatusRejected
}

type BatchOperationType string

const (
	BatchOperationReceive  BatchOperationType = "RECEIVE"
	BatchOperationTransfer BatchOperationType = "TRANSFER"
	BatchOperationIssue    BatchOperationType = "ISSUE"
	BatchOperationReturn   BatchOperationType = "RETURN"
)

type BatchOutcome string

const (
	BatchOutcomeSucceeded BatchOutcome = "SUCCEEDED"
	BatchOutcomeFailed    BatchOutcome = "FAILED"
)

func containsStatus[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
