package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

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

func newStore(t *testing.T) *Store {
	t.Helper()

	st, err := New(filepath.Join(t.TempDir(), "funding.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return st
}

func seedIssue(t *testing.T, st *Store) issue.IssueID {
	t.Helper()
	ctx := context.Background()

	owner := &issue.Owner{Entity: types.NewEntity(), ID: id.NewOwnerID(), Login: "acme"}
	if err := st.UpsertOwner(ctx, owner); err != nil {
		t.Fatalf("UpsertOwner: %v", err)
	}

	repo := &issue.Repository{Entity: types.NewEntity(), ID: id.NewRepositoryID(), OwnerID: owner.ID, Name: "roadster"}
	if err := st.UpsertRepository(ctx, repo); err != nil {
		t.Fatalf("UpsertRepository: %v", err)
	}

	iid, err := issue.NewIssueID(repo.ID, 12, 9001)
	if err != nil {
		t.Fatalf("NewIssueID: %v", err)
	}
	if err := st.UpsertIssue(ctx, &issue.Issue{
		Entity: types.NewEntity(),
		ID:     iid,
		Title:  "wheels fall off",
		Open:   true,
	}); err != nil {
		t.Fatalf("UpsertIssue: %v", err)
	}
	return iid
}

func TestMigrateIdempotent(t *testing.T) {
	st := newStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSponsorRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	u := &sponsor.User{Entity: types.NewEntity(), ID: id.NewUserID(), Login: "ada", Email: "ada@example.com"}
	if err := st.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	got, err := st.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Login != "ada" || got.Email != "ada@example.com" {
		t.Errorf("got %+v", got)
	}

	if _, err := st.GetUser(ctx, id.NewUserID()); !errors.Is(err, dowfund.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}

	c := &sponsor.Company{Entity: types.NewEntity(), ID: id.NewCompanyID(), Name: "Initech"}
	if err := st.UpsertCompany(ctx, c); err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}
	if _, err := st.GetCompany(ctx, c.ID); err != nil {
		t.Fatalf("GetCompany: %v", err)
	}
}

func TestIssueLookups(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	iid := seedIssue(t, st)

	got, err := st.GetIssue(ctx, iid)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if got.Title != "wheels fall off" || !got.Open {
		t.Errorf("got %+v", got)
	}
	if got.ID.ExternalID != 9001 {
		t.Errorf("external id = %d", got.ID.ExternalID)
	}

	byNum, err := st.GetIssueByNumber(ctx, iid.RepositoryID, iid.Number)
	if err != nil {
		t.Fatalf("GetIssueByNumber: %v", err)
	}
	if !byNum.ID.Equal(got.ID) {
		t.Error("lookup by number disagrees")
	}

	// Upsert updates in place.
	got.Open = false
	if err := st.UpsertIssue(ctx, got); err != nil {
		t.Fatalf("UpsertIssue: %v", err)
	}
	again, err := st.GetIssue(ctx, iid)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if again.Open {
		t.Error("update not applied")
	}
}

func TestSingleOpenManagedIssue(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	iid := seedIssue(t, st)

	first := &managed.ManagedIssue{
		Entity:     types.NewEntity(),
		ID:         id.NewManagedIssueID(),
		IssueID:    iid,
		ManagerID:  id.NewUserID(),
		Visibility: managed.VisibilityPublic,
		State:      managed.StateOpen,
	}
	if err := st.CreateManagedIssue(ctx, first); err != nil {
		t.Fatalf("CreateManagedIssue: %v", err)
	}

	second := &managed.ManagedIssue{
		Entity:     types.NewEntity(),
		ID:         id.NewManagedIssueID(),
		IssueID:    iid,
		ManagerID:  id.NewUserID(),
		Visibility: managed.VisibilityPublic,
		State:      managed.StateOpen,
	}
	if err := st.CreateManagedIssue(ctx, second); !errors.Is(err, dowfund.ErrAlreadyManaged) {
		t.Errorf("err = %v, want ErrAlreadyManaged", err)
	}

	// After the first goes terminal, a new open request is legal again.
	if err := st.TransitionManagedIssue(ctx, first.ID, managed.StateSolved); err != nil {
		t.Fatalf("TransitionManagedIssue: %v", err)
	}
	if err := st.CreateManagedIssue(ctx, second); err != nil {
		t.Fatalf("CreateManagedIssue after terminal: %v", err)
	}
}

func TestTransitionGuards(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	iid := seedIssue(t, st)

	goal := types.Minutes(45)
	mi := &managed.ManagedIssue{
		Entity:          types.NewEntity(),
		ID:              id.NewManagedIssueID(),
		IssueID:         iid,
		ManagerID:       id.NewUserID(),
		RequestedCredit: &goal,
		Visibility:      managed.VisibilityPrivate,
		State:           managed.StateOpen,
	}
	if err := st.CreateManagedIssue(ctx, mi); err != nil {
		t.Fatalf("CreateManagedIssue: %v", err)
	}

	got, err := st.GetOpenManagedIssue(ctx, iid)
	if err != nil {
		t.Fatalf("GetOpenManagedIssue: %v", err)
	}
	if got.RequestedCredit == nil || !got.RequestedCredit.Equal(goal) {
		t.Errorf("requested = %v, want %s", got.RequestedCredit, goal)
	}
	if got.Visibility != managed.VisibilityPrivate {
		t.Errorf("visibility = %s", got.Visibility)
	}

	if err := st.TransitionManagedIssue(ctx, mi.ID, managed.StateRejected); err != nil {
		t.Fatalf("TransitionManagedIssue: %v", err)
	}

	// Terminal records refuse further mutation.
	if err := st.TransitionManagedIssue(ctx, mi.ID, managed.StateSolved); !errors.Is(err, dowfund.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if err := st.UpdateRequestedCredit(ctx, mi.ID, types.Minutes(5)); !errors.Is(err, dowfund.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if err := st.TransitionManagedIssue(ctx, id.NewManagedIssueID(), managed.StateSolved); !errors.Is(err, dowfund.ErrManagedIssueNotFound) {
		t.Errorf("err = %v, want ErrManagedIssueNotFound", err)
	}

	rejected, err := st.HasRejectedManagedIssue(ctx, iid)
	if err != nil {
		t.Fatalf("HasRejectedManagedIssue: %v", err)
	}
	if !rejected {
		t.Error("rejection not recorded")
	}
}

func TestCommitPledge(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	iid := seedIssue(t, st)

	userID := id.NewUserID()
	allocated := types.Minutes(10)

	commit := func(milli int64) error {
		p := &pledge.Pledge{
			Entity:  types.NewEntity(),
			ID:      id.NewPledgeID(),
			IssueID: iid,
			UserID:  userID,
			Credit:  types.FromMilliDow(milli),
		}
		return st.CommitPledge(ctx, p, allocated)
	}

	if err := commit(7500); err != nil {
		t.Fatalf("CommitPledge: %v", err)
	}
	if err := commit(2500); err != nil {
		t.Fatalf("CommitPledge: %v", err)
	}

	// Allocation is exhausted; even one milli more must be refused.
	if err := commit(1); !errors.Is(err, dowfund.ErrInsufficientCredit) {
		t.Errorf("err = %v, want ErrInsufficientCredit", err)
	}

	sum, err := st.SumPledgesByIssue(ctx, iid)
	if err != nil {
		t.Fatalf("SumPledgesByIssue: %v", err)
	}
	if !sum.Equal(types.Minutes(10)) {
		t.Errorf("sum = %s, want 10 minute", sum)
	}

	spent, err := st.SumPledgesBySponsor(ctx, userID, id.Nil)
	if err != nil {
		t.Fatalf("SumPledgesBySponsor: %v", err)
	}
	if !spent.Equal(types.Minutes(10)) {
		t.Errorf("spent = %s, want 10 minute", spent)
	}

	pledges, err := st.ListPledgesByIssue(ctx, iid)
	if err != nil {
		t.Fatalf("ListPledgesByIssue: %v", err)
	}
	if len(pledges) != 2 {
		t.Fatalf("len = %d, want 2", len(pledges))
	}
	if !pledges[0].UserID.Equal(userID) || !pledges[0].CompanyID.IsNil() {
		t.Errorf("pledge = %+v", pledges[0])
	}
}

func TestSumsAreExactDecimals(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	iid := seedIssue(t, st)

	userID := id.NewUserID()
	allocated := types.FromMilliDow(300)

	// 0.1 + 0.2 must sum to exactly 0.3; binary floats cannot represent it.
	for _, milli := range []int64{100, 200} {
		p := &pledge.Pledge{
			Entity:  types.NewEntity(),
			ID:      id.NewPledgeID(),
			IssueID: iid,
			UserID:  userID,
			Credit:  types.FromMilliDow(milli),
		}
		if err := st.CommitPledge(ctx, p, allocated); err != nil {
			t.Fatalf("CommitPledge %d milli: %v", milli, err)
		}
	}

	spent, err := st.SumPledgesBySponsor(ctx, userID, id.Nil)
	if err != nil {
		t.Fatalf("SumPledgesBySponsor: %v", err)
	}
	if !spent.Equal(allocated) {
		t.Errorf("spent = %s, want exactly %s", spent, allocated)
	}
	if !allocated.Sub(spent).IsZero() {
		t.Errorf("remaining = %s, want exactly zero", allocated.Sub(spent))
	}

	sum, err := st.SumPledgesByIssue(ctx, iid)
	if err != nil {
		t.Fatalf("SumPledgesByIssue: %v", err)
	}
	if !sum.Equal(allocated) {
		t.Errorf("issue sum = %s, want exactly %s", sum, allocated)
	}
}

func TestCommitPledgeRejectedIssue(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	iid := seedIssue(t, st)

	mi := &managed.ManagedIssue{
		Entity:     types.NewEntity(),
		ID:         id.NewManagedIssueID(),
		IssueID:    iid,
		ManagerID:  id.NewUserID(),
		Visibility: managed.VisibilityPublic,
		State:      managed.StateOpen,
	}
	if err := st.CreateManagedIssue(ctx, mi); err != nil {
		t.Fatalf("CreateManagedIssue: %v", err)
	}
	if err := st.TransitionManagedIssue(ctx, mi.ID, managed.StateRejected); err != nil {
		t.Fatalf("TransitionManagedIssue: %v", err)
	}

	p := &pledge.Pledge{
		Entity:  types.NewEntity(),
		ID:      id.NewPledgeID(),
		IssueID: iid,
		UserID:  id.NewUserID(),
		Credit:  types.Minutes(1),
	}
	if err := st.CommitPledge(ctx, p, types.Minutes(100)); !errors.Is(err, dowfund.ErrFundingRejected) {
		t.Errorf("err = %v, want ErrFundingRejected", err)
	}
}

func TestAllocations(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	userID := id.NewUserID()

	got, err := st.Allocated(ctx, userID, id.Nil)
	if err != nil {
		t.Fatalf("Allocated: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("fresh allocation = %s, want zero", got)
	}

	if err := st.SetAllocation(ctx, userID, id.Nil, types.FromMilliDow(1500)); err != nil {
		t.Fatalf("SetAllocation: %v", err)
	}
	if err := st.SetAllocation(ctx, userID, id.Nil, types.FromMilliDow(2500)); err != nil {
		t.Fatalf("SetAllocation overwrite: %v", err)
	}

	got, err = st.Allocated(ctx, userID, id.Nil)
	if err != nil {
		t.Fatalf("Allocated: %v", err)
	}
	if !got.Equal(types.FromMilliDow(2500)) {
		t.Errorf("allocated = %s, want 2.5 minute", got)
	}
}

func TestCampaignData(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	ownerID := id.NewOwnerID()
	pay := func(ref string, amount types.Money) {
		t.Helper()
		if err := st.RecordPayment(ctx, &campaign.Payment{
			Entity:  types.NewEntity(),
			Ref:     ref,
			OwnerID: ownerID,
			Amount:  amount,
		}); err != nil {
			t.Fatalf("RecordPayment %s: %v", ref, err)
		}
	}

	pay("r1", types.USD(5000))
	pay("r2", types.USD(2500))
	pay("r3", types.EUR(1000))
	pay("r1", types.USD(5000)) // duplicate ref, absorbed

	raised, err := st.RaisedByCurrency(ctx, campaign.Scope{OwnerID: ownerID})
	if err != nil {
		t.Fatalf("RaisedByCurrency: %v", err)
	}
	if got := raised[currency.USD]; !got.Equal(types.USD(7500)) {
		t.Errorf("usd = %s, want $75.00", got)
	}
	if got := raised[currency.EUR]; !got.Equal(types.EUR(1000)) {
		t.Errorf("eur = %s, want €10.00", got)
	}

	prices := []campaign.Price{
		{Label: "starter", Currency: currency.USD, Amount: types.USD(1500), Credit: types.Minutes(10)},
		{Label: "team", Currency: currency.USD, Amount: types.USD(12000), Credit: types.Minutes(100)},
	}
	if err := st.SetPrices(ctx, prices); err != nil {
		t.Fatalf("SetPrices: %v", err)
	}

	got, err := st.ListPrices(ctx)
	if err != nil {
		t.Fatalf("ListPrices: %v", err)
	}
	if len(got) != 2 || got[0].Label != "starter" || !got[1].Credit.Equal(types.Minutes(100)) {
		t.Errorf("prices = %+v", got)
	}
}
