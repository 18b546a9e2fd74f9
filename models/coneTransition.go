package models

// coneTransitions lists every legal single-step status change. Write-off is reachable
// from every non-terminal status and is added in init.
var coneTransitions = map[ConeStatus][]ConeStatus{
	ConeStatusReceived:      {ConeStatusInspected},
	ConeStatusInspected:     {ConeStatusAvailable},
	ConeStatusAvailable:     {ConeStatusSoftAllocated, ConeStatusQuarantine},
	ConeStatusSoftAllocated: {ConeStatusHardAllocated, ConeStatusAvailable},
	ConeStatusHardAllocated: {ConeStatusInProduction, ConeStatusAvailable},
	ConeStatusInProduction:  {ConeStatusPartialReturn, ConeStatusConsumed},
	// a rejected return leaves the cone on the floor
	ConeStatusPartialReturn: {ConeStatusPendingWeigh, ConeStatusInProduction},
	ConeStatusPendingWeigh:  {ConeStatusAvailable, ConeStatusInProduction},
	// released after re-inspection
	ConeStatusQuarantine: {ConeStatusAvailable},
}

func init() {
	for _, status := range AllConeStatuses {
		if status.IsTerminal() {
			continue
		}
		coneTransitions[status] = append(coneTransitions[status], ConeStatusWrittenOff)
	}
}

// CanTransitionCone reports whether a cone may move from one status to another in one step.
func CanTransitionCone(from ConeStatus, to ConeStatus) bool {
	return containsStatus(coneTransitions[from], to)
}

// ValidConeTransitions returns the statuses reachable from status in one step.
func ValidConeTransitions(status ConeStatus) []ConeStatus {
	next := coneTransitions[status]
	out := make([]ConeStatus, len(next))
	copy(out, next)
	return out
}
