// Package memory provides an in-memory Store for tests and embedding.
// A single mutex serializes all writes, which makes every guarded
// operation trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/workfund/dowfund"
	"github.com/workfund/dowfund/campaign"
	"github.com/workfund/dowfund/currency"
	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/sponsor"
	"github.com/workfund/dowfund/types"
)

type Store struct {
	mu sync.RWMutex

	// Sponsor storage
	users     map[string]*sponsor.User
	companies map[string]*sponsor.Company

	// Forge entity storage, keyed by id / composite issue key
	owners       map[string]*issue.Owner
	repositories map[string]*issue.Repository
	issues       map[string]*issue.Issue

	// Managed issue storage
	managedIssues map[string]*managed.ManagedIssue

	// Append-only pledge ledger
	pledges []*pledge.Pledge

	// Credit allocations per sponsor key
	allocations map[string]types.Credit

	// Campaign data
	payments []*campaign.Payment
	prices   []campaign.Price

	closed bool
}

func New() *Store {
	return &Store{
		users:         make(map[string]*sponsor.User),
		companies:     make(map[string]*sponsor.Company),
		owners:        make(map[string]*issue.Owner),
		repositories:  make(map[string]*issue.Repository),
		issues:        make(map[string]*issue.Issue),
		managedIssues: make(map[string]*managed.ManagedIssue),
		pledges:       make([]*pledge.Pledge, 0),
		allocations:   make(map[string]types.Credit),
		payments:      make([]*campaign.Payment, 0),
		prices:        make([]campaign.Price, 0),
	}
}

// Sponsor Store implementation

func (s *Store) UpsertUser(_ context.Context, u *sponsor.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	s.users[u.ID.String()] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, userID id.UserID) (*sponsor.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID.String()]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, dowfund.ErrUserNotFound
}

func (s *Store) UpsertCompany(_ context.Context, c *sponsor.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.companies[c.ID.String()] = &cp
	return nil
}

func (s *Store) GetCompany(_ context.Context, companyID id.CompanyID) (*sponsor.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.companies[companyID.String()]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, dowfund.ErrCompanyNotFound
}

// Forge entity Store implementation

func (s *Store) UpsertOwner(_ context.Context, o *issue.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.owners[o.ID.String()] = &cp
	return nil
}

func (s *Store) GetOwner(_ context.Context, ownerID id.OwnerID) (*issue.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.owners[ownerID.String()]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, dowfund.ErrOwnerNotFound
}

func (s *Store) GetOwnerByLogin(_ context.Context, login string) (*issue.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.owners {
		if o.Login == login {
			cp := *o
			return &cp, nil
		}
	}
	return nil, dowfund.ErrOwnerNotFound
}

func (s *Store) UpsertRepository(_ context.Context, r *issue.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.repositories[r.ID.String()] = &cp
	return nil
}

func (s *Store) GetRepository(_ context.Context, repoID id.RepositoryID) (*issue.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.repositories[repoID.String()]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, dowfund.ErrRepositoryNotFound
}

func (s *Store) GetRepositoryByName(_ context.Context, ownerID id.OwnerID, name string) (*issue.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.repositories {
		if r.OwnerID.Equal(ownerID) && r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, dowfund.ErrRepositoryNotFound
}

func (s *Store) UpsertIssue(_ context.Context, i *issue.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *i
	s.issues[i.ID.Key()] = &cp
	return nil
}

func (s *Store) GetIssue(_ context.Context, issueID issue.IssueID) (*issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i, ok := s.issues[issueID.Key()]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, dowfund.ErrIssueNotFound
}

func (s *Store) GetIssueByNumber(_ context.Context, repoID id.RepositoryID, number int) (*issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, i := range s.issues {
		if i.ID.RepositoryID.Equal(repoID) && i.ID.Number == number {
			cp := *i
			return &cp, nil
		}
	}
	return nil, dowfund.ErrIssueNotFound
}

// Managed issue Store implementation

func (s *Store) CreateManagedIssue(_ context.Context, m *managed.ManagedIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Single-open invariant: checked and written under one lock.
	for _, existing := range s.managedIssues {
		if existing.IssueID.Equal(m.IssueID) && existing.State == managed.StateOpen {
			return dowfund.ErrAlreadyManaged
		}
	}

	cp := *m
	s.managedIssues[m.ID.String()] = &cp
	return nil
}

func (s *Store) GetManagedIssue(_ context.Context, miID id.ManagedIssueID) (*managed.ManagedIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.managedIssues[miID.String()]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, dowfund.ErrManagedIssueNotFound
}

func (s *Store) GetOpenManagedIssue(_ context.Context, issueID issue.IssueID) (*managed.ManagedIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.managedIssues {
		if m.IssueID.Equal(issueID) && m.State == managed.StateOpen {
			cp := *m
			return &cp, nil
		}
	}
	return nil, dowfund.ErrManagedIssueNotFound
}

func (s *Store) ListManagedIssues(_ context.Context, issueID issue.IssueID) ([]*managed.ManagedIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*managed.ManagedIssue
	for _, m := range s.managedIssues {
		if m.IssueID.Equal(issueID) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) HasRejectedManagedIssue(_ context.Context, issueID issue.IssueID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.managedIssues {
		if m.IssueID.Equal(issueID) && m.State == managed.StateRejected {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateRequestedCredit(_ context.Context, miID id.ManagedIssueID, credit types.Credit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.managedIssues[miID.String()]
	if !ok {
		return dowfund.ErrManagedIssueNotFound
	}
	if m.State != managed.StateOpen {
		return dowfund.ErrInvalidTransition
	}

	m.RequestedCredit = &credit
	m.Touch()
	return nil
}

func (s *Store) TransitionManagedIssue(_ context.Context, miID id.ManagedIssueID, target managed.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.managedIssues[miID.String()]
	if !ok {
		return dowfund.ErrManagedIssueNotFound
	}
	if !m.State.CanTransition(target) {
		return dowfund.ErrInvalidTransition
	}

	m.State = target
	m.Touch()
	return nil
}

// Ledger Store implementation

func (s *Store) CommitPledge(_ context.Context, p *pledge.Pledge, allocated types.Credit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-verify rejection under the write lock. A manager may have
	// rejected the issue between the engine's pre-check and this commit.
	for _, m := range s.managedIssues {
		if m.IssueID.Equal(p.IssueID) && m.State == managed.StateRejected {
			return dowfund.ErrFundingRejected
		}
	}

	key := p.SponsorKey()
	spent := types.ZeroCredit()
	for _, existing := range s.pledges {
		if existing.SponsorKey() == key {
			spent = spent.Add(existing.Credit)
		}
	}

	if spent.Add(p.Credit).Cmp(allocated) > 0 {
		return dowfund.ErrInsufficientCredit
	}

	cp := *p
	s.pledges = append(s.pledges, &cp)
	return nil
}

func (s *Store) ListPledgesByIssue(_ context.Context, issueID issue.IssueID) ([]*pledge.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*pledge.Pledge
	for _, p := range s.pledges {
		if p.IssueID.Equal(issueID) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) SumPledgesByIssue(_ context.Context, issueID issue.IssueID) (types.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := types.ZeroCredit()
	for _, p := range s.pledges {
		if p.IssueID.Equal(issueID) {
			total = total.Add(p.Credit)
		}
	}
	return total, nil
}

func (s *Store) SumPledgesBySponsor(_ context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := pledge.SponsorKey(userID, companyID)
	total := types.ZeroCredit()
	for _, p := range s.pledges {
		if p.SponsorKey() == key {
			total = total.Add(p.Credit)
		}
	}
	return total, nil
}

// Allocation Store implementation

func (s *Store) SetAllocation(_ context.Context, userID id.UserID, companyID id.CompanyID, credit types.Credit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allocations[pledge.SponsorKey(userID, companyID)] = credit
	return nil
}

func (s *Store) Allocated(_ context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.allocations[pledge.SponsorKey(userID, companyID)]; ok {
		return c, nil
	}
	return types.ZeroCredit(), nil
}

// Campaign Store implementation

func (s *Store) RecordPayment(_ context.Context, p *campaign.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.payments {
		if existing.Ref == p.Ref {
			// Idempotent on the provider reference.
			return nil
		}
	}

	cp := *p
	s.payments = append(s.payments, &cp)
	return nil
}

func (s *Store) RaisedByCurrency(_ context.Context, scope campaign.Scope) (map[currency.Code]types.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raised := make(map[currency.Code]types.Money)
	for _, p := range s.payments {
		if !p.InScope(scope) {
			continue
		}
		code, err := currency.Parse(p.Amount.Currency)
		if err != nil {
			return nil, err
		}
		if existing, ok := raised[code]; ok {
			raised[code] = existing.Add(p.Amount)
		} else {
			raised[code] = p.Amount
		}
	}
	return raised, nil
}

func (s *Store) SetPrices(_ context.Context, prices []campaign.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices = append([]campaign.Price(nil), prices...)
	return nil
}

func (s *Store) ListPrices(_ context.Context) ([]campaign.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]campaign.Price(nil), s.prices...), nil
}

// Core Store implementation

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return dowfund.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
