// Package dowfund provides a crowdfunding engine for open-source issues.
//
// Dowfund is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - Managed funding requests with a strict one-way lifecycle
//     (open → rejected / solved)
//   - An append-only pledge ledger of DoW-credit commitments, with atomic
//     balance checks so sponsors can never overspend their allocation
//   - Exact-decimal credit arithmetic (no floating point anywhere near
//     money or credit)
//   - Multi-currency fundraising campaigns with single-rounding FX
//     aggregation
//   - Pluggable lifecycle hooks for audit trails and notifications
//
// # Quick Start
//
// Create a funding service with your preferred store:
//
//	import (
//	    "github.com/workfund/dowfund"
//	    "github.com/workfund/dowfund/store/postgres"
//	)
//
//	// Initialize store
//	st, err := postgres.New(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create the funding service
//	svc := dowfund.New(st)
//
//	// Start it (runs migrations, initializes plugins)
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop()
//
// # Core Concepts
//
// A manager opens a funding request against a tracked issue:
//
//	mi, created, err := svc.RequestFunding(ctx, userID, issueID, &goal, managed.VisibilityPublic)
//
// Sponsors commit DoW credit from their allocation:
//
//	p, err := svc.CommitFunding(ctx, userID, companyID, issueID, dowfund.Minutes(30))
//
// The financial view joins the issue with its ledger:
//
//	fi, err := svc.FinancialIssue(ctx, issueID)
//	if fi.SuccessfullyFunded() {
//	    // goal reached
//	}
//
// When the work lands, the manager closes the request:
//
//	mi, err := svc.Transition(ctx, userID, issueID, managed.StateSolved)
//
// Terminal states are permanent: a rejected issue refuses all future
// funding, and no request ever reopens.
package dowfund
