package audithook

import (
	"context"
	"errors"
	"testing"

	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/types"
)

type captureRecorder struct {
	events []*AuditEvent
	err    error
}

func (r *captureRecorder) Record(_ context.Context, event *AuditEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func testManagedIssue() *managed.ManagedIssue {
	goal := types.Minutes(60)
	return &managed.ManagedIssue{
		Entity:          types.NewEntity(),
		ID:              id.NewManagedIssueID(),
		IssueID:         issue.IssueID{RepositoryID: id.NewRepositoryID(), Number: 7},
		ManagerID:       id.NewUserID(),
		RequestedCredit: &goal,
		Visibility:      managed.VisibilityPublic,
		State:           managed.StateOpen,
	}
}

func TestManagedIssueEvents(t *testing.T) {
	rec := &captureRecorder{}
	ext := New(rec)
	mi := testManagedIssue()

	if err := ext.OnManagedIssueCreated(context.Background(), mi); err != nil {
		t.Fatalf("OnManagedIssueCreated: %v", err)
	}
	if err := ext.OnStateChanged(context.Background(), mi, "open", "solved"); err != nil {
		t.Fatalf("OnStateChanged: %v", err)
	}

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(rec.events))
	}

	created := rec.events[0]
	if created.Action != ActionRequestCreated {
		t.Errorf("action = %q, want %q", created.Action, ActionRequestCreated)
	}
	if created.ResourceID != mi.ID.String() {
		t.Errorf("resource id = %q, want %q", created.ResourceID, mi.ID)
	}
	if created.Metadata["issue_number"] != 7 {
		t.Errorf("issue_number = %v, want 7", created.Metadata["issue_number"])
	}
	if created.Metadata["requested_credit"] != "60 minute" {
		t.Errorf("requested_credit = %v", created.Metadata["requested_credit"])
	}

	changed := rec.events[1]
	if changed.Metadata["from"] != "open" || changed.Metadata["to"] != "solved" {
		t.Errorf("transition metadata = %v", changed.Metadata)
	}
}

func TestPledgeRefusedEvent(t *testing.T) {
	rec := &captureRecorder{}
	ext := New(rec)

	p := &pledge.Pledge{
		Entity:  types.NewEntity(),
		ID:      id.NewPledgeID(),
		IssueID: issue.IssueID{RepositoryID: id.NewRepositoryID(), Number: 3},
		UserID:  id.NewUserID(),
		Credit:  types.Minutes(10),
	}

	if err := ext.OnPledgeRefused(context.Background(), p, "insufficient credit"); err != nil {
		t.Fatalf("OnPledgeRefused: %v", err)
	}

	if len(rec.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Outcome != OutcomeDenied || ev.Severity != SeverityWarning {
		t.Errorf("outcome/severity = %q/%q", ev.Outcome, ev.Severity)
	}
	if ev.Reason != "insufficient credit" {
		t.Errorf("reason = %q", ev.Reason)
	}
	if ev.Metadata["sponsor_key"] != p.UserID.String() {
		t.Errorf("sponsor_key = %v, want %s", ev.Metadata["sponsor_key"], p.UserID)
	}
}

func TestDisabledActionsSkipped(t *testing.T) {
	rec := &captureRecorder{}
	ext := New(rec, WithDisabledActions(ActionGoalUpdated))
	mi := testManagedIssue()

	if err := ext.OnGoalUpdated(context.Background(), mi); err != nil {
		t.Fatalf("OnGoalUpdated: %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("expected no events for disabled action, got %d", len(rec.events))
	}

	if err := ext.OnManagedIssueCreated(context.Background(), mi); err != nil {
		t.Fatalf("OnManagedIssueCreated: %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected enabled action to record, got %d events", len(rec.events))
	}
}

func TestRecorderFailureDoesNotPropagate(t *testing.T) {
	rec := &captureRecorder{err: errors.New("backend down")}
	ext := New(rec)

	if err := ext.OnManagedIssueCreated(context.Background(), testManagedIssue()); err != nil {
		t.Fatalf("recorder failure must not propagate, got %v", err)
	}
}
