package dowfund

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/workfund/dowfund/campaign"
	"github.com/workfund/dowfund/currency"
	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/plugin"
	"github.com/workfund/dowfund/store"
	"github.com/workfund/dowfund/types"
)

// AllocationSource answers how much credit a sponsor has been granted in
// total. Allocations are written by the purchase flow; by default the
// engine reads them from its own store.
type AllocationSource interface {
	Allocated(ctx context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error)
}

// PriceBook supplies the published price catalog for campaign responses.
type PriceBook interface {
	ListPrices(ctx context.Context) ([]campaign.Price, error)
}

// Service is the funding engine. It owns every state change of managed
// issues and every write to the pledge ledger.
type Service struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	alloc  AllocationSource
	prices PriceBook
	rates  currency.RateSource

	// Configuration
	campaignGoal  types.Money
	commitRetries int
	solvedClosed  bool
	goalFloor     bool
}

// New creates a new funding Service on top of a store.
func New(s store.Store, opts ...Option) *Service {
	svc := &Service{
		store:         s,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		alloc:         s,
		prices:        s,
		rates:         currency.StaticRates{},
		campaignGoal:  types.USD(0),
		commitRetries: 3,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// Option configures a Service instance.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
		s.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(s *Service) {
		_ = s.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithAllocationSource overrides where sponsor allocations are read from.
func WithAllocationSource(a AllocationSource) Option {
	return func(s *Service) {
		s.alloc = a
	}
}

// WithPriceBook overrides where the price catalog is read from.
func WithPriceBook(p PriceBook) Option {
	return func(s *Service) {
		s.prices = p
	}
}

// WithRates sets the FX rate source used for campaign aggregation.
func WithRates(r currency.RateSource) Option {
	return func(s *Service) {
		s.rates = r
	}
}

// WithCampaignGoal sets the fundraising goal surfaced by Campaign.
func WithCampaignGoal(goal types.Money) Option {
	return func(s *Service) {
		s.campaignGoal = goal
	}
}

// WithCommitRetries sets how many times a commitment is retried after a
// transient serialization conflict.
func WithCommitRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.commitRetries = n
		}
	}
}

// WithSolvedFundingClosed refuses new commitments once an issue's funding
// request is solved. By default, late thank-you funding stays possible.
func WithSolvedFundingClosed() Option {
	return func(s *Service) {
		s.solvedClosed = true
	}
}

// WithGoalFloor refuses lowering a funding goal below the credit already
// collected. By default managers may lower the goal freely.
func WithGoalFloor() Option {
	return func(s *Service) {
		s.goalFloor = true
	}
}

// Start migrates the store and initializes plugins.
func (s *Service) Start(ctx context.Context) error {
	if err := s.store.Migrate(ctx); err != nil {
		return err
	}

	s.plugins.EmitInit(ctx, s)

	s.logger.Info("funding engine started",
		"commit_retries", s.commitRetries,
		"solved_closed", s.solvedClosed,
		"goal_floor", s.goalFloor,
	)

	return nil
}

// Stop shuts down the Service.
func (s *Service) Stop() error {
	ctx := context.Background()
	s.plugins.EmitShutdown(ctx)

	return s.store.Close()
}

// Store exposes the underlying store for the surrounding application
// (entity sync, allocation writes).
func (s *Service) Store() store.Store {
	return s.store
}

// ──────────────────────────────────────────────────
// Managed Issues
// ──────────────────────────────────────────────────

// RequestFunding creates a funding request for an issue, or updates the
// caller's existing open request. The returned bool reports whether a new
// request was created.
//
// A different manager's open request refuses the caller with
// ErrAlreadyManaged; a previously rejected issue refuses everyone with
// ErrFundingRejected.
func (s *Service) RequestFunding(ctx context.Context, callerID id.UserID, issueID issue.IssueID, requested *types.Credit, visibility managed.Visibility) (*managed.ManagedIssue, bool, error) {
	if callerID.IsNil() {
		return nil, false, ErrUnauthorized
	}
	if requested != nil && requested.IsNegative() {
		return nil, false, ErrInvalidAmount
	}

	iss, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, false, err
	}
	if !iss.Open {
		return nil, false, ErrIssueClosed
	}

	rejected, err := s.store.HasRejectedManagedIssue(ctx, issueID)
	if err != nil {
		return nil, false, err
	}
	if rejected {
		return nil, false, ErrFundingRejected
	}

	existing, err := s.store.GetOpenManagedIssue(ctx, issueID)
	switch {
	case err == nil:
		if !existing.IsManagedBy(callerID) {
			return nil, false, ErrAlreadyManaged
		}
		return s.updateGoal(ctx, existing, requested)
	case !IsNotFound(err):
		return nil, false, err
	}

	mi := &managed.ManagedIssue{
		Entity:          types.NewEntity(),
		ID:              id.NewManagedIssueID(),
		IssueID:         issueID,
		ManagerID:       callerID,
		RequestedCredit: requested,
		Visibility:      visibility,
		State:           managed.StateOpen,
	}
	if mi.Visibility == "" {
		mi.Visibility = managed.VisibilityPublic
	}
	if err := mi.Validate(); err != nil {
		return nil, false, err
	}

	// CreateManagedIssue is atomic: if a competing request landed first,
	// it fails with ErrAlreadyManaged here rather than after the fact.
	if err := s.store.CreateManagedIssue(ctx, mi); err != nil {
		return nil, false, err
	}

	s.plugins.EmitManagedIssueCreated(ctx, mi)

	s.logger.Info("funding request created",
		"managed_issue", mi.ID,
		"issue", issueID.Key(),
		"manager", callerID,
	)

	return mi, true, nil
}

func (s *Service) updateGoal(ctx context.Context, mi *managed.ManagedIssue, requested *types.Credit) (*managed.ManagedIssue, bool, error) {
	if requested == nil {
		return mi, false, nil
	}

	if s.goalFloor {
		collected, err := s.store.SumPledgesByIssue(ctx, mi.IssueID)
		if err != nil {
			return nil, false, err
		}
		if requested.Cmp(collected) < 0 {
			return nil, false, ErrGoalBelowCollected
		}
	}

	if err := s.store.UpdateRequestedCredit(ctx, mi.ID, *requested); err != nil {
		return nil, false, err
	}
	mi.RequestedCredit = requested
	mi.Touch()

	s.plugins.EmitGoalUpdated(ctx, mi)

	return mi, false, nil
}

// UpdateRequestedCredit changes the funding goal of the caller's open
// request for an issue.
func (s *Service) UpdateRequestedCredit(ctx context.Context, callerID id.UserID, issueID issue.IssueID, requested types.Credit) (*managed.ManagedIssue, error) {
	if callerID.IsNil() {
		return nil, ErrUnauthorized
	}
	if requested.IsNegative() {
		return nil, ErrInvalidAmount
	}

	mi, err := s.openRequestFor(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !mi.IsManagedBy(callerID) {
		return nil, ErrNotManager
	}

	updated, _, err := s.updateGoal(ctx, mi, &requested)
	return updated, err
}

// openRequestFor resolves the open funding request for an issue. When only
// terminal records exist the caller gets ErrInvalidTransition rather than
// not-found: a request exists, it just permits no further changes.
func (s *Service) openRequestFor(ctx context.Context, issueID issue.IssueID) (*managed.ManagedIssue, error) {
	mi, err := s.store.GetOpenManagedIssue(ctx, issueID)
	if err == nil || !IsNotFound(err) {
		return mi, err
	}

	all, listErr := s.store.ListManagedIssues(ctx, issueID)
	if listErr != nil {
		return nil, listErr
	}
	if len(all) > 0 {
		return nil, ErrInvalidTransition
	}
	return nil, err
}

// Transition moves the caller's open funding request to a terminal state.
// Only the manager may transition, and only OPEN → REJECTED / SOLVED
// exist; terminal records are immutable.
func (s *Service) Transition(ctx context.Context, callerID id.UserID, issueID issue.IssueID, target managed.State) (*managed.ManagedIssue, error) {
	if callerID.IsNil() {
		return nil, ErrUnauthorized
	}
	if !target.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	mi, err := s.openRequestFor(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !mi.IsManagedBy(callerID) {
		return nil, ErrNotManager
	}

	// The store re-checks the open state inside the same transaction, so
	// two racing transitions cannot both win.
	if err := s.store.TransitionManagedIssue(ctx, mi.ID, target); err != nil {
		return nil, err
	}

	from := mi.State
	mi.State = target
	mi.Touch()

	s.plugins.EmitStateChanged(ctx, mi, string(from), string(target))

	s.logger.Info("funding request transitioned",
		"managed_issue", mi.ID,
		"issue", issueID.Key(),
		"from", from,
		"to", target,
	)

	return mi, nil
}

// GetManagedIssue retrieves a funding request by ID.
func (s *Service) GetManagedIssue(ctx context.Context, miID id.ManagedIssueID) (*managed.ManagedIssue, error) {
	return s.store.GetManagedIssue(ctx, miID)
}

// ──────────────────────────────────────────────────
// Funding Commitments
// ──────────────────────────────────────────────────

// CommitFunding appends a commitment of DoW credit to an issue's ledger.
// When companyID is set the commitment spends company credit, otherwise
// the caller's personal credit.
//
// The issue must have a funding request on record, and a rejected issue
// refuses funding forever.
//
// The balance check and the ledger insert run in one store transaction;
// transient serialization conflicts are retried with backoff.
func (s *Service) CommitFunding(ctx context.Context, callerID id.UserID, companyID id.CompanyID, issueID issue.IssueID, credit types.Credit) (*pledge.Pledge, error) {
	if callerID.IsNil() {
		return nil, ErrUnauthorized
	}
	if !credit.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if _, err := s.store.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}

	p := &pledge.Pledge{
		Entity:    types.NewEntity(),
		ID:        id.NewPledgeID(),
		IssueID:   issueID,
		UserID:    callerID,
		CompanyID: companyID,
		Credit:    credit,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	requests, err := s.store.ListManagedIssues(ctx, issueID)
	if err != nil {
		return nil, err
	}
	// Commitments need a funding request on record; issues nobody manages
	// have no open ledger.
	if len(requests) == 0 {
		return nil, ErrManagedIssueNotFound
	}
	for _, mi := range requests {
		switch mi.State {
		case managed.StateRejected:
			s.plugins.EmitPledgeRefused(ctx, p, "funding rejected")
			return nil, ErrFundingRejected
		case managed.StateSolved:
			if s.solvedClosed {
				s.plugins.EmitPledgeRefused(ctx, p, "funding closed")
				return nil, ErrFundingClosed
			}
		}
	}

	allocated, err := s.alloc.Allocated(ctx, callerID, companyID)
	if err != nil {
		return nil, err
	}

	if err := s.commitWithRetry(ctx, p, allocated); err != nil {
		if IsRetryable(err) {
			s.logger.Warn("commitment retries exhausted",
				"issue", issueID.Key(),
				"sponsor", p.SponsorKey(),
				"error", err,
			)
		}
		switch {
		case errors.Is(err, ErrInsufficientCredit):
			s.plugins.EmitPledgeRefused(ctx, p, "insufficient credit")
		case errors.Is(err, ErrFundingRejected):
			s.plugins.EmitPledgeRefused(ctx, p, "funding rejected")
		}
		return nil, err
	}

	s.plugins.EmitPledgeCommitted(ctx, p)

	s.logger.Info("funding committed",
		"pledge", p.ID,
		"issue", issueID.Key(),
		"sponsor", p.SponsorKey(),
		"credit", credit,
	)

	return p, nil
}

func (s *Service) commitWithRetry(ctx context.Context, p *pledge.Pledge, allocated types.Credit) error {
	backoff := 10 * time.Millisecond

	var err error
	for attempt := 0; attempt <= s.commitRetries; attempt++ {
		err = s.store.CommitPledge(ctx, p, allocated)
		if err == nil || !IsRetryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return err
}

// AvailableBalance returns a sponsor's remaining credit: the allocation
// minus everything already committed under the same sponsor key.
func (s *Service) AvailableBalance(ctx context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error) {
	if userID.IsNil() && companyID.IsNil() {
		return types.ZeroCredit(), ErrUnauthorized
	}

	allocated, err := s.alloc.Allocated(ctx, userID, companyID)
	if err != nil {
		return types.ZeroCredit(), err
	}

	spent, err := s.store.SumPledgesBySponsor(ctx, userID, companyID)
	if err != nil {
		return types.ZeroCredit(), err
	}

	balance := allocated.Sub(spent)
	if balance.IsNegative() {
		s.logger.Error("sponsor balance negative",
			"sponsor", pledge.SponsorKey(userID, companyID),
			"allocated", allocated,
			"spent", spent,
		)
		return balance, ErrNegativeBalance
	}

	return balance, nil
}

// ──────────────────────────────────────────────────
// Read Models
// ──────────────────────────────────────────────────

// FinancialIssue assembles the funding view of one issue: the tracked
// record, its latest funding request, the pledge ledger, and the live
// collected total.
func (s *Service) FinancialIssue(ctx context.Context, issueID issue.IssueID) (*FinancialIssue, error) {
	iss, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	fi := &FinancialIssue{Issue: iss, Collected: types.ZeroCredit()}

	all, err := s.store.ListManagedIssues(ctx, issueID)
	if err != nil {
		return nil, err
	}
	for _, mi := range all {
		// The open request wins; otherwise the latest terminal one.
		if fi.Managed == nil || mi.State == managed.StateOpen ||
			(fi.Managed.State != managed.StateOpen && mi.CreatedAt.After(fi.Managed.CreatedAt)) {
			fi.Managed = mi
		}
	}

	fi.Pledges, err = s.store.ListPledgesByIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	fi.Collected, err = s.store.SumPledgesByIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	return fi, nil
}

// Campaign builds the per-currency fundraising view for a scope.
func (s *Service) Campaign(ctx context.Context, scope campaign.Scope) (*campaign.Campaign, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	raised, err := s.store.RaisedByCurrency(ctx, scope)
	if err != nil {
		return nil, err
	}

	prices, err := s.prices.ListPrices(ctx)
	if err != nil {
		return nil, err
	}

	conv := currency.NewConverter(s.rates)

	return campaign.Build(raised, s.campaignGoal, conv, prices)
}
