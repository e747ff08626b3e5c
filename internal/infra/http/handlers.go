package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"keystone/internal/domain"
	"keystone/internal/usecase"
	"keystone/pkg/lease"
)

const defaultActor = "admin-api"

func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Keystone-Actor"); actor != "" {
		return actor
	}
	return defaultActor
}

type validateRequest struct {
	Key string `json:"key" binding:"required"`
	// Offline requests a longer-lived lease for disconnected use.
	Offline bool `json:"offline"`
}

func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "key is required")
		return
	}

	execute := s.deps.Validate.Execute
	if req.Offline {
		execute = s.deps.Validate.ExecuteOffline
	}
	outcome, err := execute(c.Request.Context(), req.Key, "client")
	if err != nil {
		status, code := validationFailure(err)
		c.JSON(status, gin.H{
			"error":  gin.H{"code": code, "message": err.Error()},
			"result": outcome.Result,
		})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func validationFailure(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidKey):
		return http.StatusBadRequest, "INVALID_KEY"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "LICENSE_NOT_FOUND"
	case errors.Is(err, domain.ErrLicenseSuspended):
		return http.StatusForbidden, "LICENSE_SUSPENDED"
	case errors.Is(err, domain.ErrLicenseRevoked):
		return http.StatusForbidden, "LICENSE_REVOKED"
	case errors.Is(err, domain.ErrLicenseExpired):
		return http.StatusForbidden, "LICENSE_EXPIRED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) handleVerifyLease(c *gin.Context) {
	var l lease.Lease
	if err := c.ShouldBindJSON(&l); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "lease document is malformed")
		return
	}

	err := usecase.VerifyLease(l, s.deps.Ring)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true})
	case errors.Is(err, lease.ErrExpired):
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": "expired"})
	case errors.Is(err, lease.ErrSignature):
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": "signature_mismatch"})
	case errors.Is(err, lease.ErrMalformed):
		writeErrorCode(c, http.StatusBadRequest, "MALFORMED_LEASE", "lease document is malformed")
	default:
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "lease verification failed")
	}
}

type createLicenseRequest struct {
	ProductCode   string         `json:"product_code" binding:"required"`
	CustomerID    string         `json:"customer_id"`
	Tier          string         `json:"tier"`
	MachinesLimit int            `json:"machines_limit"`
	ValidDays     int            `json:"valid_days"`
	Features      map[string]any `json:"features"`
	Entitlements  map[string]any `json:"entitlements"`
	Metadata      map[string]any `json:"metadata"`
}

func (s *Server) handleCreateLicense(c *gin.Context) {
	var req createLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "product_code is required")
		return
	}

	lic, rawKey, err := s.deps.Create.Execute(c.Request.Context(), usecase.CreateLicenseRequest{
		ProductCode:   req.ProductCode,
		CustomerID:    req.CustomerID,
		Tier:          req.Tier,
		MachinesLimit: req.MachinesLimit,
		ValidFor:      time.Duration(req.ValidDays) * 24 * time.Hour,
		Features:      req.Features,
		Entitlements:  req.Entitlements,
		Metadata:      req.Metadata,
		Actor:         actorFrom(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrDuplicateKey):
			writeErrorCode(c, http.StatusConflict, "DUPLICATE_KEY", "generated key collided, retry")
		default:
			writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "license creation failed")
		}
		return
	}
	// the raw key appears in this response and nowhere else
	c.JSON(http.StatusCreated, gin.H{"license": lic, "key": rawKey})
}

func (s *Server) handleGetLicense(c *gin.Context) {
	lic, err := s.deps.Manage.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "license not found")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "license lookup failed")
		return
	}
	c.JSON(http.StatusOK, lic)
}

func (s *Server) handleListLicenses(c *gin.Context) {
	filter := usecase.LicenseFilter{
		ProductID:  c.Query("product_id"),
		CustomerID: c.Query("customer_id"),
		Status:     domain.LicenseStatus(c.Query("status")),
		Limit:      intQuery(c, "limit", 100),
		Offset:     intQuery(c, "offset", 0),
	}
	licenses, total, err := s.deps.Manage.List(c.Request.Context(), filter)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "license list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"licenses": licenses, "total": total})
}

type updateLicenseRequest struct {
	Tier          *string        `json:"tier"`
	Status        *string        `json:"status"`
	MachinesLimit *int           `json:"machines_limit"`
	ExpiresAt     *time.Time     `json:"expires_at"`
	Features      map[string]any `json:"features"`
	Entitlements  map[string]any `json:"entitlements"`
	Metadata      map[string]any `json:"metadata"`
}

func (s *Server) handleUpdateLicense(c *gin.Context) {
	var req updateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "malformed update")
		return
	}
	update := usecase.UpdateLicenseRequest{
		Tier:          req.Tier,
		MachinesLimit: req.MachinesLimit,
		ExpiresAt:     req.ExpiresAt,
		Features:      req.Features,
		Entitlements:  req.Entitlements,
		Metadata:      req.Metadata,
		Actor:         actorFrom(c),
	}
	if req.Status != nil {
		status := domain.LicenseStatus(*req.Status)
		switch status {
		case domain.LicenseStatusActive, domain.LicenseStatusSuspended,
			domain.LicenseStatusRevoked, domain.LicenseStatusExpired:
			update.Status = &status
		default:
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "unknown status")
			return
		}
	}

	lic, err := s.deps.Manage.Update(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "license not found")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "license update failed")
		return
	}
	c.JSON(http.StatusOK, lic)
}

type renewLicenseRequest struct {
	ExtendDays int `json:"extend_days" binding:"required"`
}

func (s *Server) handleRenewLicense(c *gin.Context) {
	var req renewLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ExtendDays <= 0 {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "extend_days must be positive")
		return
	}
	lic, err := s.deps.Manage.Renew(c.Request.Context(), c.Param("id"), time.Duration(req.ExtendDays)*24*time.Hour, actorFrom(c))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "license not found")
		case errors.Is(err, domain.ErrLicenseRevoked):
			writeErrorCode(c, http.StatusConflict, "LICENSE_REVOKED", "revoked licenses cannot be renewed")
		default:
			writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "license renewal failed")
		}
		return
	}
	c.JSON(http.StatusOK, lic)
}

func (s *Server) handleDeleteLicense(c *gin.Context) {
	if err := s.deps.Manage.Delete(c.Request.Context(), c.Param("id"), actorFrom(c)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "license not found")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "license delete failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListAuditEvents(c *gin.Context) {
	events, total, err := s.deps.Audit.ListEvents(
		c.Request.Context(),
		c.Param("id"),
		domain.AuditEventType(c.Query("event_type")),
		intQuery(c, "limit", 100),
		intQuery(c, "offset", 0),
	)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "audit list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": total})
}

func (s *Server) handleVerifyAuditChain(c *gin.Context) {
	verification, err := s.deps.Audit.VerifyChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "chain verification failed")
		return
	}
	c.JSON(http.StatusOK, verification)
}

type checkEntitlementRequest struct {
	Feature string `json:"feature" binding:"required"`
}

func (s *Server) handleCheckEntitlement(c *gin.Context) {
	var req checkEntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "feature is required")
		return
	}

	lic, err := s.deps.Manage.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "license not found")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "license lookup failed")
		return
	}
	product, err := s.deps.Products.GetByID(c.Request.Context(), lic.ProductID)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "product lookup failed")
		return
	}

	ents := usecase.ResolveLicenseEntitlements(product, lic)
	decision, err := s.deps.Validate.CheckEntitlement(c.Request.Context(), s.deps.Policy, lic, product.Code, req.Feature, ents)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "entitlement check failed")
		return
	}
	c.JSON(http.StatusOK, decision)
}

type createProductRequest struct {
	Code        string         `json:"code" binding:"required"`
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	DefaultTier string         `json:"default_tier"`
	Features    map[string]any `json:"features"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "code and name are required")
		return
	}
	product, err := s.deps.Products.Create(c.Request.Context(), domain.Product{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		DefaultTier: req.DefaultTier,
		Features:    req.Features,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			writeErrorCode(c, http.StatusConflict, "DUPLICATE_CODE", "product code already exists")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "product creation failed")
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.deps.Products.List(c.Request.Context(), intQuery(c, "limit", 100), intQuery(c, "offset", 0))
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "product list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

type createCustomerRequest struct {
	Name     string         `json:"name" binding:"required"`
	Email    string         `json:"email"`
	Company  string         `json:"company"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleCreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "name is required")
		return
	}
	customer, err := s.deps.Customers.Create(c.Request.Context(), domain.Customer{
		Name:     req.Name,
		Email:    req.Email,
		Company:  req.Company,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "customer creation failed")
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (s *Server) handleListCustomers(c *gin.Context) {
	customers, err := s.deps.Customers.List(c.Request.Context(), intQuery(c, "limit", 100), intQuery(c, "offset", 0))
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "customer list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return def
	}
	return value
}
