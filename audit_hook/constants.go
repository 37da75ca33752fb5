package audithook

// Action constants for audit events.
const (
	// Funding request actions
	ActionRequestCreated = "request.created"
	ActionGoalUpdated    = "goal.updated"
	ActionStateChanged   = "state.changed"

	// Ledger actions
	ActionPledgeCommitted = "pledge.committed"
	ActionPledgeRefused   = "pledge.refused"
)

// Resource constants for audit events.
const (
	ResourceManagedIssue = "managed_issue"
	ResourcePledge       = "pledge"
)

// Category constants for audit events.
const (
	CategoryFunding = "funding"
	CategoryLedger  = "ledger"
)

// Severity constants for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Outcome constants for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
)
