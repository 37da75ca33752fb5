// Package id defines TypeID-based identity types for all funding entities.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique,
// and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all funding entity types.
const (
	PrefixUser         Prefix = "user"  // Platform user
	PrefixCompany      Prefix = "comp"  // Sponsoring company
	PrefixOwner        Prefix = "owner" // Repository owner (user or org on the forge)
	PrefixRepository   Prefix = "repo"  // Tracked repository
	PrefixManagedIssue Prefix = "mi"    // Managed funding request
	PrefixPledge       Prefix = "pldg"  // Funding ledger entry
)

// ID is the primary identifier type for all funding entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "pldg_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases per entity
// ──────────────────────────────────────────────────

// UserID is a type-safe identifier for users (prefix: "user").
type UserID = ID

// CompanyID is a type-safe identifier for companies (prefix: "comp").
type CompanyID = ID

// OwnerID is a type-safe identifier for owners (prefix: "owner").
type OwnerID = ID

// RepositoryID is a type-safe identifier for repositories (prefix: "repo").
type RepositoryID = ID

// ManagedIssueID is a type-safe identifier for managed issues (prefix: "mi").
type ManagedIssueID = ID

// PledgeID is a type-safe identifier for funding ledger entries (prefix: "pldg").
type PledgeID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewUserID generates a new unique user ID.
func NewUserID() ID { return New(PrefixUser) }

// NewCompanyID generates a new unique company ID.
func NewCompanyID() ID { return New(PrefixCompany) }

// NewOwnerID generates a new unique owner ID.
func NewOwnerID() ID { return New(PrefixOwner) }

// NewRepositoryID generates a new unique repository ID.
func NewRepositoryID() ID { return New(PrefixRepository) }

// NewManagedIssueID generates a new unique managed issue ID.
func NewManagedIssueID() ID { return New(PrefixManagedIssue) }

// NewPledgeID generates a new unique pledge ID.
func NewPledgeID() ID { return New(PrefixPledge) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseUserID parses a string and validates the "user" prefix.
func ParseUserID(s string) (ID, error) { return ParseWithPrefix(s, PrefixUser) }

// ParseCompanyID parses a string and validates the "comp" prefix.
func ParseCompanyID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCompany) }

// ParseOwnerID parses a string and validates the "owner" prefix.
func ParseOwnerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixOwner) }

// ParseRepositoryID parses a string and validates the "repo" prefix.
func ParseRepositoryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRepository) }

// ParseManagedIssueID parses a string and validates the "mi" prefix.
func ParseManagedIssueID(s string) (ID, error) { return ParseWithPrefix(s, PrefixManagedIssue) }

// ParsePledgeID parses a string and validates the "pldg" prefix.
func ParsePledgeID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPledge) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// Equal reports whether two IDs refer to the same entity.
func (i ID) Equal(other ID) bool {
	if !i.valid || !other.valid {
		return i.valid == other.valid
	}

	return i.inner.String() == other.inner.String()
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
