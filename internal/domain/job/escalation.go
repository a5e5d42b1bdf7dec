package job

// Escalation levels. Higher levels sort first among jobs of the same platform class and criticality.
const (
	EscalationDefault                   = 0
	EscalationAssetJobRequest           = 100
	EscalationProcessAssetRequestStatus = 150
	EscalationProcessAssetRequestSync   = 200
	// EscalationCriticalDependency is applied to prerequisites of critical or escalated jobs.
	EscalationCriticalDependency = 250
)
