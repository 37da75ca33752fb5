// Package issue defines the externally tracked entities that funding
// attaches to: owners, repositories, and issues.
//
// Ingestion from the forge is out of scope here; the surrounding
// application syncs these records through the store's upsert methods.
package issue

import (
	"fmt"

	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/types"
)

// IssueID is the composite key identifying the funded unit of work:
// the repository it belongs to, its per-repository number, and the
// forge's own numeric id. Immutable once created.
type IssueID struct {
	RepositoryID id.RepositoryID `json:"repository_id"`
	Number       int             `json:"number"`
	ExternalID   int64           `json:"external_id"`
}

// NewIssueID builds and validates a composite issue key.
func NewIssueID(repositoryID id.RepositoryID, number int, externalID int64) (IssueID, error) {
	iid := IssueID{RepositoryID: repositoryID, Number: number, ExternalID: externalID}
	if err := iid.Validate(); err != nil {
		return IssueID{}, err
	}
	return iid, nil
}

// Validate checks the composite key's structural invariants.
func (i IssueID) Validate() error {
	if i.RepositoryID.IsNil() {
		return fmt.Errorf("issue: missing repository id")
	}
	if i.Number <= 0 {
		return fmt.Errorf("issue: number must be positive, got %d", i.Number)
	}
	if i.ExternalID <= 0 {
		return fmt.Errorf("issue: external id must be positive, got %d", i.ExternalID)
	}
	return nil
}

// Key returns the canonical string form used for map keys and logging,
// e.g. "repo_01h2x.../42".
func (i IssueID) Key() string {
	return fmt.Sprintf("%s/%d", i.RepositoryID, i.Number)
}

// Equal reports whether two composite keys identify the same issue.
func (i IssueID) Equal(other IssueID) bool {
	return i.RepositoryID.Equal(other.RepositoryID) &&
		i.Number == other.Number &&
		i.ExternalID == other.ExternalID
}

// Owner is a forge account (user or organization) that owns repositories.
type Owner struct {
	types.Entity
	ID    id.OwnerID `json:"id"`
	Login string     `json:"login"`
	Name  string     `json:"name,omitempty"`
}

// Repository is a tracked repository under an owner.
type Repository struct {
	types.Entity
	ID      id.RepositoryID `json:"id"`
	OwnerID id.OwnerID      `json:"owner_id"`
	Name    string          `json:"name"`
}

// Issue is a tracked issue, mirrored from the forge.
type Issue struct {
	types.Entity
	ID     IssueID `json:"id"`
	Title  string  `json:"title"`
	Open   bool    `json:"open"`
	URL    string  `json:"url,omitempty"`
	Author string  `json:"author,omitempty"`
}

// Validate checks structural invariants of the issue record.
func (i *Issue) Validate() error {
	if err := i.ID.Validate(); err != nil {
		return err
	}
	if i.Title == "" {
		return fmt.Errorf("issue: missing title")
	}
	return nil
}
