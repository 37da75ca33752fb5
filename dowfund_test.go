package dowfund_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/workfund/dowfund"
	"github.com/workfund/dowfund/campaign"
	"github.com/workfund/dowfund/currency"
	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/store/memory"
	"github.com/workfund/dowfund/types"
)

type fixture struct {
	store   *memory.Store
	svc     *dowfund.Service
	issueID issue.IssueID
	manager id.UserID
	sponsor id.UserID
}

func newFixture(t *testing.T, opts ...dowfund.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	svc := dowfund.New(st, opts...)

	repoID := id.NewRepositoryID()
	issueID, err := issue.NewIssueID(repoID, 42, 1001)
	if err != nil {
		t.Fatalf("NewIssueID: %v", err)
	}

	if err := st.UpsertRepository(ctx, &issue.Repository{
		Entity:  types.NewEntity(),
		ID:      repoID,
		OwnerID: id.NewOwnerID(),
		Name:    "engine",
	}); err != nil {
		t.Fatalf("UpsertRepository: %v", err)
	}
	if err := st.UpsertIssue(ctx, &issue.Issue{
		Entity: types.NewEntity(),
		ID:     issueID,
		Title:  "fix flaky scheduler",
		Open:   true,
	}); err != nil {
		t.Fatalf("UpsertIssue: %v", err)
	}

	f := &fixture{
		store:   st,
		svc:     svc,
		issueID: issueID,
		manager: id.NewUserID(),
		sponsor: id.NewUserID(),
	}

	if err := st.SetAllocation(ctx, f.sponsor, id.Nil, types.Minutes(100)); err != nil {
		t.Fatalf("SetAllocation: %v", err)
	}

	return f
}

func (f *fixture) openRequest(t *testing.T, goal *types.Credit) *managed.ManagedIssue {
	t.Helper()
	mi, created, err := f.svc.RequestFunding(context.Background(), f.manager, f.issueID, goal, managed.VisibilityPublic)
	if err != nil {
		t.Fatalf("RequestFunding: %v", err)
	}
	if !created {
		t.Fatal("expected a new funding request")
	}
	return mi
}

func TestRequestFunding(t *testing.T) {
	ctx := context.Background()

	t.Run("creates open request", func(t *testing.T) {
		f := newFixture(t)
		goal := types.Minutes(60)

		mi := f.openRequest(t, &goal)

		if mi.State != managed.StateOpen {
			t.Errorf("state = %s, want open", mi.State)
		}
		if !mi.IsManagedBy(f.manager) {
			t.Error("manager not recorded")
		}
		if mi.RequestedCredit == nil || !mi.RequestedCredit.Equal(goal) {
			t.Errorf("requested = %v, want %s", mi.RequestedCredit, goal)
		}
	})

	t.Run("repeat by same manager updates goal", func(t *testing.T) {
		f := newFixture(t)
		goal := types.Minutes(60)
		first := f.openRequest(t, &goal)

		raised := types.Minutes(90)
		second, created, err := f.svc.RequestFunding(ctx, f.manager, f.issueID, &raised, managed.VisibilityPublic)
		if err != nil {
			t.Fatalf("RequestFunding: %v", err)
		}
		if created {
			t.Error("expected update, not a second request")
		}
		if !second.ID.Equal(first.ID) {
			t.Error("update returned a different request")
		}
		if !second.RequestedCredit.Equal(raised) {
			t.Errorf("requested = %s, want %s", second.RequestedCredit, raised)
		}
	})

	t.Run("second manager refused", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)

		_, _, err := f.svc.RequestFunding(ctx, id.NewUserID(), f.issueID, nil, managed.VisibilityPublic)
		if !errors.Is(err, dowfund.ErrAlreadyManaged) {
			t.Errorf("err = %v, want ErrAlreadyManaged", err)
		}
	})

	t.Run("closed issue refused", func(t *testing.T) {
		f := newFixture(t)
		iss, _ := f.store.GetIssue(ctx, f.issueID)
		iss.Open = false
		if err := f.store.UpsertIssue(ctx, iss); err != nil {
			t.Fatalf("UpsertIssue: %v", err)
		}

		_, _, err := f.svc.RequestFunding(ctx, f.manager, f.issueID, nil, managed.VisibilityPublic)
		if !errors.Is(err, dowfund.ErrIssueClosed) {
			t.Errorf("err = %v, want ErrIssueClosed", err)
		}
	})

	t.Run("unknown issue refused", func(t *testing.T) {
		f := newFixture(t)
		other, _ := issue.NewIssueID(id.NewRepositoryID(), 7, 7)

		_, _, err := f.svc.RequestFunding(ctx, f.manager, other, nil, managed.VisibilityPublic)
		if !dowfund.IsNotFound(err) {
			t.Errorf("err = %v, want not-found", err)
		}
	})

	t.Run("anonymous caller refused", func(t *testing.T) {
		f := newFixture(t)

		_, _, err := f.svc.RequestFunding(ctx, id.Nil, f.issueID, nil, managed.VisibilityPublic)
		if !errors.Is(err, dowfund.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("manager solves", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)

		mi, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateSolved)
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
		if mi.State != managed.StateSolved {
			t.Errorf("state = %s, want solved", mi.State)
		}
	})

	t.Run("non-manager refused", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)

		_, err := f.svc.Transition(ctx, id.NewUserID(), f.issueID, managed.StateSolved)
		if !errors.Is(err, dowfund.ErrNotManager) {
			t.Errorf("err = %v, want ErrNotManager", err)
		}
	})

	t.Run("terminal is final", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)
		if _, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateSolved); err != nil {
			t.Fatalf("Transition: %v", err)
		}

		// The request exists but is terminal; that is an invalid
		// transition, not a missing record.
		_, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateRejected)
		if !errors.Is(err, dowfund.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("issue with no request is not found", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateSolved)
		if !dowfund.IsNotFound(err) {
			t.Errorf("err = %v, want not-found", err)
		}
	})

	t.Run("open is not a target", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)

		_, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateOpen)
		if !errors.Is(err, dowfund.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestCommitFunding(t *testing.T) {
	ctx := context.Background()

	t.Run("commits within allocation", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)

		p, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(30))
		if err != nil {
			t.Fatalf("CommitFunding: %v", err)
		}
		if !p.Credit.Equal(types.Minutes(30)) {
			t.Errorf("credit = %s", p.Credit)
		}

		balance, err := f.svc.AvailableBalance(ctx, f.sponsor, id.Nil)
		if err != nil {
			t.Fatalf("AvailableBalance: %v", err)
		}
		if !balance.Equal(types.Minutes(70)) {
			t.Errorf("balance = %s, want 70 minute", balance)
		}
	})

	t.Run("unmanaged issue refuses funding", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(5))
		if !errors.Is(err, dowfund.ErrManagedIssueNotFound) {
			t.Errorf("err = %v, want ErrManagedIssueNotFound", err)
		}
	})

	t.Run("insufficient credit refused", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)

		_, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(101))
		if !errors.Is(err, dowfund.ErrInsufficientCredit) {
			t.Errorf("err = %v, want ErrInsufficientCredit", err)
		}

		// The refused commitment must not touch the ledger.
		balance, err := f.svc.AvailableBalance(ctx, f.sponsor, id.Nil)
		if err != nil {
			t.Fatalf("AvailableBalance: %v", err)
		}
		if !balance.Equal(types.Minutes(100)) {
			t.Errorf("balance = %s, want 100 minute", balance)
		}
	})

	t.Run("company credit spends the company pool", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)
		companyID := id.NewCompanyID()
		if err := f.store.SetAllocation(ctx, id.Nil, companyID, types.Minutes(50)); err != nil {
			t.Fatalf("SetAllocation: %v", err)
		}

		if _, err := f.svc.CommitFunding(ctx, f.sponsor, companyID, f.issueID, types.Minutes(40)); err != nil {
			t.Fatalf("CommitFunding: %v", err)
		}

		// Personal allocation untouched.
		personal, err := f.svc.AvailableBalance(ctx, f.sponsor, id.Nil)
		if err != nil {
			t.Fatalf("AvailableBalance: %v", err)
		}
		if !personal.Equal(types.Minutes(100)) {
			t.Errorf("personal balance = %s, want 100 minute", personal)
		}

		company, err := f.svc.AvailableBalance(ctx, f.sponsor, companyID)
		if err != nil {
			t.Fatalf("AvailableBalance: %v", err)
		}
		if !company.Equal(types.Minutes(10)) {
			t.Errorf("company balance = %s, want 10 minute", company)
		}
	})

	t.Run("rejected issue refuses funding forever", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)
		if _, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateRejected); err != nil {
			t.Fatalf("Transition: %v", err)
		}

		_, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(10))
		if !errors.Is(err, dowfund.ErrFundingRejected) {
			t.Errorf("err = %v, want ErrFundingRejected", err)
		}

		// And nobody can open a fresh request either.
		_, _, err = f.svc.RequestFunding(ctx, id.NewUserID(), f.issueID, nil, managed.VisibilityPublic)
		if !errors.Is(err, dowfund.ErrFundingRejected) {
			t.Errorf("err = %v, want ErrFundingRejected", err)
		}
	})

	t.Run("solved issue accepts late funding by default", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)
		if _, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateSolved); err != nil {
			t.Fatalf("Transition: %v", err)
		}

		if _, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(10)); err != nil {
			t.Fatalf("CommitFunding: %v", err)
		}
	})

	t.Run("solved issue refuses funding when closed", func(t *testing.T) {
		f := newFixture(t, dowfund.WithSolvedFundingClosed())
		f.openRequest(t, nil)
		if _, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateSolved); err != nil {
			t.Fatalf("Transition: %v", err)
		}

		_, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(10))
		if !errors.Is(err, dowfund.ErrFundingClosed) {
			t.Errorf("err = %v, want ErrFundingClosed", err)
		}
	})

	t.Run("zero and negative amounts refused", func(t *testing.T) {
		f := newFixture(t)

		for _, milli := range []int64{0, -1, -5000} {
			_, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.FromMilliDow(milli))
			if !errors.Is(err, dowfund.ErrInvalidAmount) {
				t.Errorf("milli=%d: err = %v, want ErrInvalidAmount", milli, err)
			}
		}
	})

	t.Run("fractional credit is exact", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)

		// Ten commitments of 0.1 minute must sum to exactly 1 minute.
		for i := 0; i < 10; i++ {
			if _, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.FromMilliDow(100)); err != nil {
				t.Fatalf("CommitFunding #%d: %v", i, err)
			}
		}

		fi, err := f.svc.FinancialIssue(ctx, f.issueID)
		if err != nil {
			t.Fatalf("FinancialIssue: %v", err)
		}
		if !fi.Collected.Equal(types.Minutes(1)) {
			t.Errorf("collected = %s, want exactly 1 minute", fi.Collected)
		}
	})
}

func TestConcurrentCommitsCannotOverspend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.openRequest(t, nil)

	// Allocation of 100 minutes, 20 goroutines each committing 10 minutes.
	// At most 10 may succeed.
	const workers = 20

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(10))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, dowfund.ErrInsufficientCredit):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 10 {
		t.Errorf("succeeded = %d, want exactly 10", succeeded)
	}

	balance, err := f.svc.AvailableBalance(ctx, f.sponsor, id.Nil)
	if err != nil {
		t.Fatalf("AvailableBalance: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("balance = %s, want zero", balance)
	}
}

func TestConcurrentRequestsOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const workers = 8

	var wg sync.WaitGroup
	created := make([]bool, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, created[n], errs[n] = f.svc.RequestFunding(ctx, id.NewUserID(), f.issueID, nil, managed.VisibilityPublic)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range errs {
		switch {
		case errs[i] == nil && created[i]:
			winners++
		case errors.Is(errs[i], dowfund.ErrAlreadyManaged):
		default:
			t.Fatalf("unexpected result: created=%v err=%v", created[i], errs[i])
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestUpdateRequestedCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("lowering below collected allowed by default", func(t *testing.T) {
		f := newFixture(t)
		goal := types.Minutes(60)
		f.openRequest(t, &goal)
		if _, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(50)); err != nil {
			t.Fatalf("CommitFunding: %v", err)
		}

		mi, err := f.svc.UpdateRequestedCredit(ctx, f.manager, f.issueID, types.Minutes(20))
		if err != nil {
			t.Fatalf("UpdateRequestedCredit: %v", err)
		}
		if !mi.RequestedCredit.Equal(types.Minutes(20)) {
			t.Errorf("requested = %s", mi.RequestedCredit)
		}

		// Collected now exceeds the goal, so the issue reads as funded.
		fi, err := f.svc.FinancialIssue(ctx, f.issueID)
		if err != nil {
			t.Fatalf("FinancialIssue: %v", err)
		}
		if !fi.SuccessfullyFunded() {
			t.Error("expected successfully funded")
		}
	})

	t.Run("goal floor refuses lowering below collected", func(t *testing.T) {
		f := newFixture(t, dowfund.WithGoalFloor())
		goal := types.Minutes(60)
		f.openRequest(t, &goal)
		if _, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(50)); err != nil {
			t.Fatalf("CommitFunding: %v", err)
		}

		_, err := f.svc.UpdateRequestedCredit(ctx, f.manager, f.issueID, types.Minutes(20))
		if !errors.Is(err, dowfund.ErrGoalBelowCollected) {
			t.Errorf("err = %v, want ErrGoalBelowCollected", err)
		}
	})

	t.Run("non-manager refused", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)

		_, err := f.svc.UpdateRequestedCredit(ctx, id.NewUserID(), f.issueID, types.Minutes(10))
		if !errors.Is(err, dowfund.ErrNotManager) {
			t.Errorf("err = %v, want ErrNotManager", err)
		}
	})

	t.Run("terminal request refused", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)
		if _, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateSolved); err != nil {
			t.Fatalf("Transition: %v", err)
		}

		_, err := f.svc.UpdateRequestedCredit(ctx, f.manager, f.issueID, types.Minutes(10))
		if !errors.Is(err, dowfund.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestCampaign(t *testing.T) {
	ctx := context.Background()

	ownerID := id.NewOwnerID()
	st := memory.New()
	svc := dowfund.New(st,
		dowfund.WithCampaignGoal(types.USD(100000)),
		dowfund.WithRates(currency.StaticRates{
			currency.EUR: decimal.RequireFromString("1.25"),
		}),
	)

	if err := st.RecordPayment(ctx, &campaign.Payment{
		Entity:  types.NewEntity(),
		Ref:     "pay_001",
		OwnerID: ownerID,
		Amount:  types.USD(5000),
	}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if err := st.RecordPayment(ctx, &campaign.Payment{
		Entity:  types.NewEntity(),
		Ref:     "pay_002",
		OwnerID: ownerID,
		Amount:  types.EUR(2000),
	}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	// Duplicate provider refs are absorbed, not double-counted.
	if err := st.RecordPayment(ctx, &campaign.Payment{
		Entity:  types.NewEntity(),
		Ref:     "pay_001",
		OwnerID: ownerID,
		Amount:  types.USD(5000),
	}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	c, err := svc.Campaign(ctx, campaign.Scope{OwnerID: ownerID})
	if err != nil {
		t.Fatalf("Campaign: %v", err)
	}

	// $50.00 + €20.00 at 1.25 USD/EUR = $75.00.
	if got := c.Raised[currency.USD]; !got.Equal(types.USD(7500)) {
		t.Errorf("raised usd = %s, want $75.00", got)
	}
	// €20.00 + $50.00 / 1.25 = €60.00.
	if got := c.Raised[currency.EUR]; !got.Equal(types.EUR(6000)) {
		t.Errorf("raised eur = %s, want €60.00", got)
	}
	if got := c.Target[currency.USD]; !got.Equal(types.USD(100000)) {
		t.Errorf("target usd = %s, want $1000.00", got)
	}

	t.Run("scope requires an owner", func(t *testing.T) {
		if _, err := svc.Campaign(ctx, campaign.Scope{}); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestFinancialIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("no goal never funded", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)
		if _, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(99)); err != nil {
			t.Fatalf("CommitFunding: %v", err)
		}

		fi, err := f.svc.FinancialIssue(ctx, f.issueID)
		if err != nil {
			t.Fatalf("FinancialIssue: %v", err)
		}
		if fi.SuccessfullyFunded() {
			t.Error("issue without a goal must not read as funded")
		}
		if !fi.AmountRequested().IsZero() {
			t.Errorf("requested = %s, want zero", fi.AmountRequested())
		}
	})

	t.Run("goal reached exactly", func(t *testing.T) {
		f := newFixture(t)
		goal := types.Minutes(30)
		f.openRequest(t, &goal)
		if _, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(30)); err != nil {
			t.Fatalf("CommitFunding: %v", err)
		}

		fi, err := f.svc.FinancialIssue(ctx, f.issueID)
		if err != nil {
			t.Fatalf("FinancialIssue: %v", err)
		}
		if !fi.SuccessfullyFunded() {
			t.Error("collected == requested must read as funded")
		}
		if fi.FundingState() != managed.StateOpen {
			t.Errorf("state = %s, want open", fi.FundingState())
		}
		if fi.SponsorCount() != 1 {
			t.Errorf("sponsors = %d, want 1", fi.SponsorCount())
		}
	})

	t.Run("collected survives terminal state", func(t *testing.T) {
		f := newFixture(t)
		f.openRequest(t, nil)
		if _, err := f.svc.CommitFunding(ctx, f.sponsor, id.Nil, f.issueID, types.Minutes(25)); err != nil {
			t.Fatalf("CommitFunding: %v", err)
		}
		if _, err := f.svc.Transition(ctx, f.manager, f.issueID, managed.StateSolved); err != nil {
			t.Fatalf("Transition: %v", err)
		}

		fi, err := f.svc.FinancialIssue(ctx, f.issueID)
		if err != nil {
			t.Fatalf("FinancialIssue: %v", err)
		}
		if !fi.Collected.Equal(types.Minutes(25)) {
			t.Errorf("collected = %s, want 25 minute", fi.Collected)
		}
		if fi.FundingState() != managed.StateSolved {
			t.Errorf("state = %s, want solved", fi.FundingState())
		}
	})
}
