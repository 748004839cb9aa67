package notifications

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"aula-backend/login"
	"aula-backend/migrations"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/notifications", h.list)
	r.POST("/notifications/:id/read", h.markRead)
}

func (h *Handler) currentUser(c *gin.Context) *migrations.User {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	email, ok := login.GetEmailFromToken(token)
	if !ok || token == "" {
		return nil
	}
	return migrations.GetUserByEmail(email)
}

func (h *Handler) list(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
		return
	}
	notifs, err := h.repo.ListByUser(u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": notifs})
}

func (h *Handler) markRead(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id inválido"})
		return
	}
	if err := h.repo.MarkRead(id, u.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
