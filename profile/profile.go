package profile

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"aula-backend/login"
	"aula-backend/migrations"
	"aula-backend/notifications"
	"aula-backend/referrals"
	"aula-backend/subscriptions"
)

type Handler struct {
	subs   *subscriptions.Repository
	refs   *referrals.Repository
	notifs *notifications.Repository
}

func NewHandler(subs *subscriptions.Repository, refs *referrals.Repository, notifs *notifications.Repository) *Handler {
	return &Handler{subs: subs, refs: refs, notifs: notifs}
}

// RegisterRoutes registers profile endpoints
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/user-detail/:id", h.getProfile)
	r.POST("/user-detail/:id", h.updateProfile)
	r.DELETE("/user-detail/:id", h.deleteAccount)
	// Aggregated overview endpoint to reduce multiple sequential fetches on app start.
	r.GET("/user-overview/:id", h.getOverview)
}

func authorizedUser(c *gin.Context) *migrations.User {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		return nil
	}
	email, ok := login.GetEmailFromToken(token)
	if !ok {
		return nil
	}
	return migrations.GetUserByEmail(email)
}

func userJSON(u *migrations.User) gin.H {
	return gin.H{
		"id":                u.ID,
		"first_name":        u.FirstName,
		"last_name":         u.LastName,
		"full_name":         u.FirstName + " " + u.LastName,
		"email":             u.Email,
		"role":              u.Role,
		"referral_code":     u.ReferralCode,
		"is_permanent_free": u.IsPermanentFree,
		"email_verified":    u.EmailVerified,
		"created_at":        u.CreatedAt.Format(time.RFC3339),
		"updated_at":        u.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) getProfile(c *gin.Context) {
	me := authorizedUser(c)
	if me == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token requerido"})
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id inválido"})
		return
	}
	u := migrations.GetUserByID(id)
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Usuario no encontrado"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": userJSON(u)})
}

func (h *Handler) updateProfile(c *gin.Context) {
	me := authorizedUser(c)
	if me == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token requerido"})
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id != me.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "No autorizado"})
		return
	}
	var body struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos"})
		return
	}
	if err := migrations.UpdateUserProfile(id, body.FirstName, body.LastName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo actualizar el perfil"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// deleteAccount elimina la cuenta del propio usuario; referidos y
// suscripciones caen en cascada.
func (h *Handler) deleteAccount(c *gin.Context) {
	me := authorizedUser(c)
	if me == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token requerido"})
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id != me.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "No autorizado"})
		return
	}
	if err := migrations.DeleteUser(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo eliminar la cuenta"})
		return
	}
	log.Printf("[PROFILE][delete] cuenta eliminada user=%d", id)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getOverview devuelve el perfil completo: usuario, suscripción primaria,
// is_subscribed derivado, referidos y notificaciones sin leer.
func (h *Handler) getOverview(c *gin.Context) {
	me := authorizedUser(c)
	if me == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token requerido"})
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id inválido"})
		return
	}
	u := migrations.GetUserByID(id)
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Usuario no encontrado"})
		return
	}

	primary, err := h.subs.GetPrimarySubscription(id)
	if err != nil {
		log.Printf("[PROFILE][overview] error leyendo suscripción user=%d: %v", id, err)
	}
	isSubscribed := subscriptions.Entitled(primary, u.IsPermanentFree, time.Now())

	out := gin.H{
		"user":          userJSON(u),
		"is_subscribed": isSubscribed,
		"subscription":  nil,
	}
	if primary != nil {
		out["subscription"] = primary
	}
	if stats, err := h.refs.GetStats(id); err == nil && stats != nil {
		out["referrals"] = stats
	}
	if unread, err := h.notifs.CountUnread(id); err == nil {
		out["unread_notifications"] = unread
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}
