package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/balancebook/internal/audit/domain"
	authdomain "github.com/smallbiznis/balancebook/internal/auth/domain"
	obscontext "github.com/smallbiznis/balancebook/internal/observability/context"
	"github.com/smallbiznis/balancebook/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitKeyPrefix = "balancebook:ratelimit:"

// AuthRequired resolves the bearer token into an actor and stores it on the
// request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := s.authSvc.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := authdomain.WithActor(c.Request.Context(), actor)
		ctx = obscontext.WithActor(ctx, obscontext.Actor{Email: actor.Email, Role: string(actor.Role)})
		ctx = auditdomain.WithRequestInfo(ctx, c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authdomain.ActorFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor.Subject(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RateLimit bounds mutating requests per actor with a token bucket.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.cfg.RateLimit.Enabled || !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		actor, _ := authdomain.ActorFromContext(ctx)
		caller := actor.Email
		if caller == "" {
			caller = c.ClientIP()
		}

		result, err := s.limiter.Allow(ctx, rateLimitKeyPrefix+strings.ToLower(caller), s.cfg.RateLimit.Rate, s.cfg.RateLimit.Burst)
		if err != nil {
			// Limiter outages must not block the shop.
			logger.FromContext(ctx).Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			endpoint := normalizeRateLimitEndpoint(c)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)
			logger.FromContext(ctx).Warn("rate limit exceeded", zap.String("endpoint", endpoint))
			retry := int(result.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) Me(c *gin.Context) {
	actor, ok := authdomain.ActorFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": actor})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

func viewerFromContext(c *gin.Context) string {
	actor, _ := authdomain.ActorFromContext(c.Request.Context())
	return actor.Email
}
