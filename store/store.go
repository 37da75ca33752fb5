// Package store defines the unified storage interface for all funding
// entities. Backends live in the subpackages memory, postgres, and sqlite.
package store

import (
	"context"

	"github.com/workfund/dowfund/campaign"
	"github.com/workfund/dowfund/currency"
	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/sponsor"
	"github.com/workfund/dowfund/types"
)

// Store is the unified storage interface. All mutation of managed issues
// and the pledge ledger goes through the guarded methods here — no other
// code path may insert pledges or flip managed-issue state.
type Store interface {
	// Sponsor methods
	UpsertUser(ctx context.Context, u *sponsor.User) error
	GetUser(ctx context.Context, userID id.UserID) (*sponsor.User, error)
	UpsertCompany(ctx context.Context, c *sponsor.Company) error
	GetCompany(ctx context.Context, companyID id.CompanyID) (*sponsor.Company, error)

	// Forge entity methods (written by the external sync, read here)
	UpsertOwner(ctx context.Context, o *issue.Owner) error
	GetOwner(ctx context.Context, ownerID id.OwnerID) (*issue.Owner, error)
	GetOwnerByLogin(ctx context.Context, login string) (*issue.Owner, error)
	UpsertRepository(ctx context.Context, r *issue.Repository) error
	GetRepository(ctx context.Context, repoID id.RepositoryID) (*issue.Repository, error)
	GetRepositoryByName(ctx context.Context, ownerID id.OwnerID, name string) (*issue.Repository, error)
	UpsertIssue(ctx context.Context, i *issue.Issue) error
	GetIssue(ctx context.Context, issueID issue.IssueID) (*issue.Issue, error)
	GetIssueByNumber(ctx context.Context, repoID id.RepositoryID, number int) (*issue.Issue, error)

	// Managed issue methods. CreateManagedIssue enforces the single-open
	// invariant atomically: if an open request already exists for the
	// issue, it fails with ErrAlreadyManaged — two concurrent first
	// requesters can never both succeed.
	CreateManagedIssue(ctx context.Context, m *managed.ManagedIssue) error
	GetManagedIssue(ctx context.Context, miID id.ManagedIssueID) (*managed.ManagedIssue, error)
	GetOpenManagedIssue(ctx context.Context, issueID issue.IssueID) (*managed.ManagedIssue, error)
	ListManagedIssues(ctx context.Context, issueID issue.IssueID) ([]*managed.ManagedIssue, error)
	HasRejectedManagedIssue(ctx context.Context, issueID issue.IssueID) (bool, error)
	// UpdateRequestedCredit and TransitionManagedIssue are guarded on the
	// current state being open; a lost race returns ErrInvalidTransition.
	UpdateRequestedCredit(ctx context.Context, miID id.ManagedIssueID, credit types.Credit) error
	TransitionManagedIssue(ctx context.Context, miID id.ManagedIssueID, target managed.State) error

	// Ledger methods. CommitPledge performs the balance check and the
	// insert inside one transaction (or lock) keyed on the sponsor, so
	// concurrent commits can never jointly overspend the allocation. It
	// also re-verifies inside the same transaction that the issue's
	// funding has not been rejected.
	CommitPledge(ctx context.Context, p *pledge.Pledge, allocated types.Credit) error
	ListPledgesByIssue(ctx context.Context, issueID issue.IssueID) ([]*pledge.Pledge, error)
	SumPledgesByIssue(ctx context.Context, issueID issue.IssueID) (types.Credit, error)
	SumPledgesBySponsor(ctx context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error)

	// Credit allocation (maintained by the external purchase flow)
	SetAllocation(ctx context.Context, userID id.UserID, companyID id.CompanyID, credit types.Credit) error
	Allocated(ctx context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error)

	// Campaign data (payments written by the external billing integration)
	RecordPayment(ctx context.Context, p *campaign.Payment) error
	RaisedByCurrency(ctx context.Context, scope campaign.Scope) (map[currency.Code]types.Money, error)
	SetPrices(ctx context.Context, prices []campaign.Price) error
	ListPrices(ctx context.Context) ([]campaign.Price, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
