package managed

import (
	"testing"

	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/types"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		input   string
		want    State
		wantErr bool
	}{
		{"open", StateOpen, false},
		{"rejected", StateRejected, false},
		{"solved", StateSolved, false},
		{"", "", true},
		{"OPEN", "", true},
		{"closed", "", true},
	}

	for _, tt := range tests {
		got, err := ParseState(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseState(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseState(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateOpen, StateRejected, true},
		{StateOpen, StateSolved, true},
		{StateOpen, StateOpen, false},
		{StateRejected, StateOpen, false},
		{StateRejected, StateSolved, false},
		{StateSolved, StateOpen, false},
		{StateSolved, StateRejected, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	if StateOpen.IsTerminal() {
		t.Error("open must not be terminal")
	}
	if !StateRejected.IsTerminal() || !StateSolved.IsTerminal() {
		t.Error("rejected and solved must be terminal")
	}
}

func TestParseVisibility(t *testing.T) {
	tests := []struct {
		input   string
		want    Visibility
		wantErr bool
	}{
		{"", VisibilityPublic, false},
		{"public", VisibilityPublic, false},
		{"private", VisibilityPrivate, false},
		{"hidden", "", true},
	}

	for _, tt := range tests {
		got, err := ParseVisibility(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVisibility(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVisibility(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestManagedIssueValidate(t *testing.T) {
	iid, err := issue.NewIssueID(id.NewRepositoryID(), 7, 7)
	if err != nil {
		t.Fatalf("NewIssueID: %v", err)
	}

	valid := func() *ManagedIssue {
		return &ManagedIssue{
			Entity:     types.NewEntity(),
			ID:         id.NewManagedIssueID(),
			IssueID:    iid,
			ManagerID:  id.NewUserID(),
			Visibility: VisibilityPublic,
			State:      StateOpen,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid record: %v", err)
	}

	m := valid()
	m.ID = id.Nil
	if err := m.Validate(); err == nil {
		t.Error("missing id accepted")
	}

	m = valid()
	m.ManagerID = id.Nil
	if err := m.Validate(); err == nil {
		t.Error("missing manager accepted")
	}

	m = valid()
	m.State = "pending"
	if err := m.Validate(); err == nil {
		t.Error("bogus state accepted")
	}

	m = valid()
	negative := types.FromMilliDow(-100)
	m.RequestedCredit = &negative
	if err := m.Validate(); err == nil {
		t.Error("negative goal accepted")
	}
}

func TestIsManagedBy(t *testing.T) {
	manager := id.NewUserID()
	m := &ManagedIssue{ManagerID: manager}

	if !m.IsManagedBy(manager) {
		t.Error("manager not recognized")
	}
	if m.IsManagedBy(id.NewUserID()) {
		t.Error("stranger recognized as manager")
	}
}
