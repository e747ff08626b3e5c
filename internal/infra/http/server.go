// Package http exposes the licensing API over gin. Validation and lease
// verification are client-facing and rate limited; everything else is
// admin surface behind the X-Keystone-Api-Key header.
package http

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"keystone/internal/config"
	"keystone/internal/domain"
	"keystone/internal/usecase"
)

type ServerDeps struct {
	Validate   *usecase.ValidateLicense
	Create     *usecase.CreateLicense
	Manage     *usecase.ManageLicense
	Activation *usecase.Activation
	Audit      *usecase.AuditChain
	Products   usecase.ProductRepository
	Customers  usecase.CustomerRepository
	Ring       *domain.Keyring
	Policy     usecase.EntitlementPolicy // optional
	Limiter    domain.RateLimiter        // optional
}

type Server struct {
	engine *gin.Engine
	deps   ServerDeps

	adminAPIKey string

	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	s := &Server{
		engine:              gin.New(),
		deps:                deps,
		adminAPIKey:         cfg.AdminAPIKey,
		rateLimitRequests:   cfg.RateLimitRequests,
		rateLimitWindow:     cfg.RateLimitWindow,
		rateLimitFailClosed: cfg.RateLimitFailClosed,
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)

	v1 := s.engine.Group("/v1")

	// client-facing, rate limited, no admin key
	v1.POST("/validate", s.rateLimited(routeValidate), s.handleValidate)
	v1.POST("/leases/verify", s.rateLimited(routeLeaseVerify), s.handleVerifyLease)
	v1.POST("/activate", s.rateLimited(routeActivate), s.handleActivate)
	v1.POST("/deactivate", s.rateLimited(routeDeactivate), s.handleDeactivate)
	v1.POST("/heartbeat", s.rateLimited(routeHeartbeat), s.handleHeartbeat)

	admin := v1.Group("", s.requireAdminKey())
	admin.POST("/licenses", s.handleCreateLicense)
	admin.GET("/licenses", s.handleListLicenses)
	admin.GET("/licenses/:id", s.handleGetLicense)
	admin.PATCH("/licenses/:id", s.handleUpdateLicense)
	admin.DELETE("/licenses/:id", s.handleDeleteLicense)
	admin.POST("/licenses/:id/renew", s.handleRenewLicense)
	admin.GET("/licenses/:id/machines", s.handleListMachines)
	admin.GET("/licenses/:id/audit", s.handleListAuditEvents)
	admin.GET("/licenses/:id/audit/verify", s.handleVerifyAuditChain)
	admin.POST("/licenses/:id/entitlements/check", s.handleCheckEntitlement)

	admin.POST("/products", s.handleCreateProduct)
	admin.GET("/products", s.handleListProducts)
	admin.POST("/customers", s.handleCreateCustomer)
	admin.GET("/customers", s.handleListCustomers)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminAPIKey == "" {
			writeErrorCode(c, http.StatusServiceUnavailable, "ADMIN_DISABLED", "admin api key is not configured")
			c.Abort()
			return
		}
		provided := c.GetHeader("X-Keystone-Api-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminAPIKey)) != 1 {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
