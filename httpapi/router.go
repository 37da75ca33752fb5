// Package httpapi exposes the funding engine over HTTP.
//
// Caller identity arrives in the X-User-Id header; authentication itself
// is handled upstream of this service.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/workfund/dowfund"
)

// NewRouter builds the gin engine with all funding routes mounted.
func NewRouter(svc *dowfund.Service, log zerolog.Logger, release bool) *gin.Engine {
	if release {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(accessLog(log))

	h := NewHandlers(svc, log)

	r.GET("/health", h.Health)

	owners := r.Group("/owners/:owner")
	{
		owners.GET("/campaigns", h.OwnerCampaign)

		repos := owners.Group("/repos/:repo")
		{
			repos.GET("/campaigns", h.RepoCampaign)

			issues := repos.Group("/issues/:number")
			{
				issues.GET("", h.GetFinancialIssue)
				issues.POST("/funding", h.CommitFunding)
				issues.POST("/funding/requests", h.RequestFunding)
				issues.POST("/state", h.TransitionState)
			}
		}
	}

	return r
}

// requestID tags every request with a correlation id, echoed back in the
// X-Request-Id response header.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Header("X-Request-Id", rid)
		c.Next()
	}
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Info().
			Str("rid", c.GetString("request_id")).
			Str("m", c.Request.Method).
			Str("p", c.FullPath()).
			Int("s", c.Writer.Status()).
			Msg("http")
	}
}
