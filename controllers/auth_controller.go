package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"curator_backend/config"
	"curator_backend/middleware"
)

const tokenValidity = 24 * time.Hour

// AuthController issues admin session tokens.
type AuthController struct {
	cfg *config.Config
}

// NewAuthController creates the controller.
func NewAuthController(cfg *config.Config) *AuthController {
	return &AuthController{cfg: cfg}
}

// Login verifies the admin credentials and returns a JWT.
// POST /api/v1/auth/login
func (ac *AuthController) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if ac.cfg.AdminUsername == "" || ac.cfg.AdminPasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin login not configured"})
		return
	}

	if req.Username != ac.cfg.AdminUsername ||
		bcrypt.CompareHashAndPassword([]byte(ac.cfg.AdminPasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := middleware.GenerateToken(ac.cfg.JWTSecret, req.Username, tokenValidity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenValidity.Seconds()),
	})
}
