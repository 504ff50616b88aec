package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/util"
)

// credentialRequest is the body for creating or updating a credential.
type credentialRequest struct {
	Key     string `json:"key" binding:"required"`
	Secret  string `json:"secret" binding:"required"`
	Role    string `json:"role" binding:"required"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// credentialResponse describes a credential without its secret hash.
type credentialResponse struct {
	Key       string    `json:"key"`
	Role      string    `json:"role"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

func toResponse(cred *basic.Credential) credentialResponse {
	return credentialResponse{
		Key:       cred.Key,
		Role:      cred.Role.String(),
		Enabled:   cred.Enabled,
		CreatedAt: cred.CreatedAt,
		UpdatedAt: cred.UpdatedAt,
	}
}

func (s *Server) registerRoutes() {
	grp := s.engine.Group("/admin")
	grp.GET("/credentials", s.listCredentials)
	grp.POST("/credentials", s.upsertCredential)
	grp.DELETE("/credentials/:key", s.revokeCredential)
	grp.POST("/reload", s.reloadCredentials)
}

func (s *Server) listCredentials(c *gin.Context) {
	creds, err := s.store.List(c.Request.Context())
	if err != nil {
		s.logger.Error("list credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	out := make([]credentialResponse, 0, len(creds))
	for _, cred := range creds {
		out = append(out, toResponse(cred))
	}

	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

func (s *Server) upsertCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := basic.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role: " + req.Role})
		return
	}

	hash, err := basic.HashSecret(req.Secret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cred := &basic.Credential{
		Key:        req.Key,
		SecretHash: hash,
		Role:       role,
		Enabled:    enabled,
	}

	if err := s.store.AddOrUpdate(c.Request.Context(), cred); err != nil {
		if status := util.StatusCode(err); status != http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("upsert credential", zap.String("key", req.Key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	s.logger.Info("credential upserted",
		zap.String("key", req.Key),
		zap.String("role", role.String()),
	)

	c.JSON(http.StatusCreated, toResponse(cred))
}

func (s *Server) revokeCredential(c *gin.Context) {
	key := c.Param("key")

	if err := s.store.Revoke(c.Request.Context(), key); err != nil {
		if status := util.StatusCode(err); status != http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("revoke credential", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	s.logger.Info("credential revoked", zap.String("key", key))

	c.Status(http.StatusNoContent)
}

func (s *Server) reloadCredentials(c *gin.Context) {
	if s.reload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reload not supported for this store"})
		return
	}

	if err := s.reload(c.Request.Context()); err != nil {
		s.logger.Error("reload credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	n, err := s.store.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
		return
	}

	s.logger.Info("credentials reloaded", zap.Int("count", n))

	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "count": n})
}
