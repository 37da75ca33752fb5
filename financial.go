package dowfund

import (
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/types"
)

// FinancialIssue is the read model joining a tracked issue with its
// funding request and ledger totals. It is assembled fresh on every read;
// the collected amount is always the live sum over the pledge ledger.
type FinancialIssue struct {
	Issue   *issue.Issue          `json:"issue"`
	Managed *managed.ManagedIssue `json:"managed_issue,omitempty"`
	Pledges []*pledge.Pledge      `json:"pledges,omitempty"`

	Collected types.Credit `json:"amount_collected"`
}

// AmountCollected returns the total credit committed to this issue.
func (f *FinancialIssue) AmountCollected() types.Credit {
	return f.Collected
}

// AmountRequested returns the manager's funding goal, or zero when the
// issue is unmanaged or the manager set no goal.
func (f *FinancialIssue) AmountRequested() types.Credit {
	if f.Managed == nil || f.Managed.RequestedCredit == nil {
		return types.ZeroCredit()
	}
	return *f.Managed.RequestedCredit
}

// HasGoal reports whether a positive funding goal has been set.
func (f *FinancialIssue) HasGoal() bool {
	return f.Managed != nil &&
		f.Managed.RequestedCredit != nil &&
		f.Managed.RequestedCredit.IsPositive()
}

// SuccessfullyFunded reports whether a positive goal exists and the
// collected amount has reached it. Issues without a goal are never
// successfully funded, regardless of how much credit they collected.
func (f *FinancialIssue) SuccessfullyFunded() bool {
	if !f.HasGoal() {
		return false
	}
	return f.Collected.Cmp(*f.Managed.RequestedCredit) >= 0
}

// FundingState returns the lifecycle state of the funding request, or
// empty when the issue is unmanaged.
func (f *FinancialIssue) FundingState() managed.State {
	if f.Managed == nil {
		return ""
	}
	return f.Managed.State
}

// SponsorCount returns the number of distinct sponsors in the ledger.
func (f *FinancialIssue) SponsorCount() int {
	seen := make(map[string]struct{}, len(f.Pledges))
	for _, p := range f.Pledges {
		seen[p.SponsorKey()] = struct{}{}
	}
	return len(seen)
}
