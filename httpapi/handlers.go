package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/workfund/dowfund"
	"github.com/workfund/dowfund/campaign"
	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/types"
)

// Handlers carries the funding service into gin handler methods.
type Handlers struct {
	svc *dowfund.Service
	log zerolog.Logger
}

func NewHandlers(svc *dowfund.Service, log zerolog.Logger) *Handlers {
	return &Handlers{svc: svc, log: log}
}

func (h *Handlers) Health(c *gin.Context) {
	if err := h.svc.Store().Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// caller extracts the authenticated user from the X-User-Id header.
func (h *Handlers) caller(c *gin.Context) (id.UserID, bool) {
	raw := c.GetHeader("X-User-Id")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-Id header"})
		return id.Nil, false
	}
	userID, err := id.ParseUserID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid X-User-Id header"})
		return id.Nil, false
	}
	return userID, true
}

// resolveIssue turns /:owner/:repo/:number path params into the composite
// issue key via store lookups.
func (h *Handlers) resolveIssue(c *gin.Context) (issue.IssueID, bool) {
	ctx := c.Request.Context()
	st := h.svc.Store()

	owner, err := st.GetOwnerByLogin(ctx, c.Param("owner"))
	if err != nil {
		h.respondError(c, err)
		return issue.IssueID{}, false
	}

	repo, err := st.GetRepositoryByName(ctx, owner.ID, c.Param("repo"))
	if err != nil {
		h.respondError(c, err)
		return issue.IssueID{}, false
	}

	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid issue number"})
		return issue.IssueID{}, false
	}

	iss, err := st.GetIssueByNumber(ctx, repo.ID, number)
	if err != nil {
		h.respondError(c, err)
		return issue.IssueID{}, false
	}
	return iss.ID, true
}

type commitFundingRequest struct {
	CompanyID      string `json:"companyId"`
	MilliDowAmount int64  `json:"milliDowAmount"`
}

func (h *Handlers) CommitFunding(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	issueID, ok := h.resolveIssue(c)
	if !ok {
		return
	}

	var req commitFundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	companyID := id.Nil
	if req.CompanyID != "" {
		var err error
		companyID, err = id.ParseCompanyID(req.CompanyID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid companyId"})
			return
		}
	}

	p, err := h.svc.CommitFunding(c.Request.Context(), userID, companyID, issueID,
		types.FromMilliDow(req.MilliDowAmount))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type requestFundingRequest struct {
	MilliDowAmount *int64 `json:"milliDowAmount"`
	Visibility     string `json:"visibility"`
}

func (h *Handlers) RequestFunding(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	issueID, ok := h.resolveIssue(c)
	if !ok {
		return
	}

	var req requestFundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	visibility, err := managed.ParseVisibility(req.Visibility)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visibility"})
		return
	}

	var requested *types.Credit
	if req.MilliDowAmount != nil {
		credit := types.FromMilliDow(*req.MilliDowAmount)
		requested = &credit
	}

	mi, created, err := h.svc.RequestFunding(c.Request.Context(), userID, issueID, requested, visibility)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, mi)
}

type transitionRequest struct {
	State string `json:"state"`
}

func (h *Handlers) TransitionState(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	issueID, ok := h.resolveIssue(c)
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	target, err := managed.ParseState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	mi, err := h.svc.Transition(c.Request.Context(), userID, issueID, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mi)
}

func (h *Handlers) GetFinancialIssue(c *gin.Context) {
	issueID, ok := h.resolveIssue(c)
	if !ok {
		return
	}

	fi, err := h.svc.FinancialIssue(c.Request.Context(), issueID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Private requests expose totals but not the individual sponsors.
	if fi.Managed != nil && fi.Managed.Visibility == managed.VisibilityPrivate {
		fi.Pledges = nil
	}

	c.JSON(http.StatusOK, gin.H{
		"issue":               fi.Issue,
		"managed_issue":       fi.Managed,
		"pledges":             fi.Pledges,
		"amount_collected":    fi.AmountCollected(),
		"amount_requested":    fi.AmountRequested(),
		"successfully_funded": fi.SuccessfullyFunded(),
		"state":               fi.FundingState(),
		"sponsor_count":       fi.SponsorCount(),
	})
}

func (h *Handlers) OwnerCampaign(c *gin.Context) {
	owner, err := h.svc.Store().GetOwnerByLogin(c.Request.Context(), c.Param("owner"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.campaign(c, campaign.Scope{OwnerID: owner.ID})
}

func (h *Handlers) RepoCampaign(c *gin.Context) {
	ctx := c.Request.Context()
	owner, err := h.svc.Store().GetOwnerByLogin(ctx, c.Param("owner"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	repo, err := h.svc.Store().GetRepositoryByName(ctx, owner.ID, c.Param("repo"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.campaign(c, campaign.Scope{OwnerID: owner.ID, RepositoryID: repo.ID})
}

func (h *Handlers) campaign(c *gin.Context, scope campaign.Scope) {
	camp, err := h.svc.Campaign(c.Request.Context(), scope)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

// respondError maps engine errors to status codes. Refusals carry a
// user-visible message; internal failures do not leak details.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var ve dowfund.ValidationError

	switch {
	case errors.Is(err, dowfund.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case dowfund.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, dowfund.ErrInsufficientCredit):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "not enough DoW credit for this commitment"})
	case errors.Is(err, dowfund.ErrFundingRejected):
		c.JSON(http.StatusForbidden, gin.H{"error": "funding was rejected for this issue and cannot be resumed"})
	case errors.Is(err, dowfund.ErrAlreadyManaged),
		errors.Is(err, dowfund.ErrFundingClosed),
		dowfund.IsForbidden(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, dowfund.ErrInvalidTransition),
		errors.Is(err, dowfund.ErrGoalBelowCollected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, dowfund.ErrInvalidAmount),
		errors.Is(err, dowfund.ErrInvalidInput),
		errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case dowfund.IsRetryable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry"})
	default:
		h.log.Error().Err(err).Str("rid", c.GetString("request_id")).Msg("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
