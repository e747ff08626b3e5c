package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"keystone/internal/domain"
	"keystone/internal/usecase"
)

type activateRequest struct {
	Key         string         `json:"key" binding:"required"`
	Fingerprint string         `json:"fingerprint" binding:"required"`
	Hostname    string         `json:"hostname"`
	Platform    string         `json:"platform"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleActivate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "key and fingerprint are required")
		return
	}

	result, err := s.deps.Activation.Activate(c.Request.Context(), usecase.ActivateRequest{
		RawKey:      req.Key,
		Fingerprint: req.Fingerprint,
		Hostname:    req.Hostname,
		Platform:    req.Platform,
		Metadata:    req.Metadata,
		Actor:       "client",
	})
	if err != nil {
		if errors.Is(err, domain.ErrActivationLimit) {
			writeErrorCode(c, http.StatusConflict, "ACTIVATION_LIMIT", "machine activation limit reached")
			return
		}
		status, code := validationFailure(err)
		writeErrorCode(c, status, code, err.Error())
		return
	}
	status := http.StatusCreated
	if result.Code == usecase.ActivationCodeAlreadyActivated {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

type deactivateRequest struct {
	Key         string `json:"key" binding:"required"`
	Fingerprint string `json:"fingerprint" binding:"required"`
}

func (s *Server) handleDeactivate(c *gin.Context) {
	var req deactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "key and fingerprint are required")
		return
	}

	removed, err := s.deps.Activation.Deactivate(c.Request.Context(), req.Key, req.Fingerprint, "client")
	if err != nil {
		status, code := validationFailure(err)
		writeErrorCode(c, status, code, err.Error())
		return
	}
	if !removed {
		writeErrorCode(c, http.StatusNotFound, "MACHINE_NOT_FOUND", "fingerprint is not activated")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

type heartbeatRequest struct {
	Key         string `json:"key" binding:"required"`
	Fingerprint string `json:"fingerprint" binding:"required"`
	Version     string `json:"version"`
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "key and fingerprint are required")
		return
	}

	ok, err := s.deps.Activation.Heartbeat(c.Request.Context(), req.Key, req.Fingerprint, req.Version)
	if err != nil {
		status, code := validationFailure(err)
		writeErrorCode(c, status, code, err.Error())
		return
	}
	if !ok {
		writeErrorCode(c, http.StatusNotFound, "MACHINE_NOT_FOUND", "fingerprint is not activated")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

func (s *Server) handleListMachines(c *gin.Context) {
	machines, err := s.deps.Activation.Machines(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "machine list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": machines})
}
