package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/you/mediqueue/pkg/auth"
	"github.com/you/mediqueue/pkg/events"
	"github.com/you/mediqueue/services/auth-service/internal/service"
)

type Handler struct {
	svc *service.AuthService
	log *logrus.Logger
}

func NewHandler(svc *service.AuthService, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()
	r.GET("/", h.Home)
	r.GET("/healthz", h.Health)
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.GET("/verify-token", h.VerifyToken)
	return r
}

func (h *Handler) Home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Auth service is running"})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /register
func (h *Handler) Register(c *gin.Context) {
	var in struct {
		Email    string         `json:"email" binding:"required"`
		Password string         `json:"password" binding:"required"`
		Role     string         `json:"role" binding:"required"`
		Profile  events.Profile `json:"profile"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, token, err := h.svc.Register(c.Request.Context(), in.Email, in.Password, in.Role, in.Profile)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// POST /login
func (h *Handler) Login(c *gin.Context) {
	var in struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, token, err := h.svc.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// GET /verify-token, consumed by the appointment service.
func (h *Handler) VerifyToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	token := strings.TrimSpace(header[len("bearer "):])

	claims, err := h.svc.Verify(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenRevoked):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrExpired), errors.Is(err, auth.ErrBadSignature), errors.Is(err, auth.ErrMalformed):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": gin.H{"sub": claims.Sub, "role": claims.Role}})
}
