package referrals

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"aula-backend/login"
	"aula-backend/migrations"
)

type Handler struct {
	repo       *Repository
	appBaseURL string
}

func NewHandler(repo *Repository, appBaseURL string) *Handler {
	return &Handler{repo: repo, appBaseURL: appBaseURL}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/referrals/stats", h.getStats)
	r.GET("/referrals/qr", h.getQR)
	r.GET("/referrals", h.list)
}

func (h *Handler) currentUser(c *gin.Context) *migrations.User {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	email, ok := login.GetEmailFromToken(token)
	if !ok || token == "" {
		return nil
	}
	return migrations.GetUserByEmail(email)
}

func (h *Handler) getStats(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
		return
	}
	stats, err := h.repo.GetStats(u.ID)
	if err != nil || stats == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudieron calcular las estadísticas"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *Handler) list(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
		return
	}
	refs, err := h.repo.ListByReferrer(u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refs})
}

// getQR devuelve un PNG con el enlace de invitación del usuario, listo para
// compartir desde la app.
func (h *Handler) getQR(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
		return
	}
	link := fmt.Sprintf("%s/register?referralCode=%s", h.appBaseURL, u.ReferralCode)
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo generar el código QR"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
