package subscriptions

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo *Repository
	svc  *Service
}

func NewHandler(repo *Repository, svc *Service) *Handler {
	return &Handler{repo: repo, svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/plans", h.getPlans)
	r.POST("/plans", h.createPlan)
	r.PUT("/plans/:id", h.updatePlan)
	r.DELETE("/plans/:id", h.deletePlan)

	r.GET("/subscriptions", h.getSubscriptions)

	r.POST("/checkout", h.checkout)
	r.POST("/checkout/class", h.checkoutClass)
	r.POST("/stripe/webhook", h.webhook)
}

func (h *Handler) getPlans(c *gin.Context) {
	plans, err := h.repo.GetPlans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (h *Handler) createPlan(c *gin.Context) {
	var p Plan
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "datos inválidos"})
		return
	}
	if err := h.repo.CreatePlan(&p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updatePlan(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id inválido"})
		return
	}
	var p Plan
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "datos inválidos"})
		return
	}
	if err := h.repo.UpdatePlan(id, &p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) deletePlan(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id inválido"})
		return
	}
	if err := h.repo.DeletePlan(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getSubscriptions(c *gin.Context) {
	userParam := c.Query("user_id")
	userID := 0
	if userParam != "" {
		if id, err := strconv.Atoi(userParam); err == nil {
			userID = id
		}
	}
	subs, err := h.repo.GetSubscriptions(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subs})
}

// checkout crea una Checkout Session de suscripción.
// Body: { "user_id": number, "plan_id": number }
func (h *Handler) checkout(c *gin.Context) {
	var body struct {
		UserID int `json:"user_id"`
		PlanID int `json:"plan_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == 0 || body.PlanID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "datos inválidos"})
		return
	}
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pagos no configurados"})
		return
	}
	url, sessionID, err := h.svc.CreateCheckoutSession(c.Request.Context(), body.UserID, body.PlanID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url, "session_id": sessionID})
}

// checkoutClass crea una Checkout Session de pago único para una clase.
// Body: { "user_id": number, "class_name": string, "price_cents": number, "currency": string }
func (h *Handler) checkoutClass(c *gin.Context) {
	var body struct {
		UserID     int    `json:"user_id"`
		ClassName  string `json:"class_name"`
		PriceCents int64  `json:"price_cents"`
		Currency   string `json:"currency"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == 0 || body.ClassName == "" || body.PriceCents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "datos inválidos"})
		return
	}
	if body.Currency == "" {
		body.Currency = "usd"
	}
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pagos no configurados"})
		return
	}
	url, sessionID, err := h.svc.CreateClassCheckoutSession(c.Request.Context(), body.UserID, body.ClassName, body.PriceCents, body.Currency)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url, "session_id": sessionID})
}

// webhook recibe notificaciones del proveedor. Responde 200 en todo
// desenlace que deba frenar la redelivery (procesado, ignorado o fatal) y
// no-2xx cuando conviene que el proveedor reenvíe.
func (h *Handler) webhook(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pagos no configurados"})
		return
	}
	// El cuerpo crudo se lee antes de cualquier parseo: la verificación de
	// firma opera sobre los bytes originales.
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cuerpo ilegible"})
		return
	}
	ev, err := VerifyEvent(payload, c.GetHeader("Stripe-Signature"), h.svc.WebhookSecret())
	if err != nil {
		log.Printf("[STRIPE][webhook] verificación fallida: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "evento no verificable"})
		return
	}
	if err := h.svc.ProcessEvent(c.Request.Context(), ev); err != nil {
		if errors.Is(err, ErrFatalEvent) {
			// Se reconoce el evento para cortar la redelivery; queda solo
			// el log como incidente de integridad de datos.
			log.Printf("[STRIPE][fatal] evento %s irresoluble: %v", ev.Kind, err)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		log.Printf("[STRIPE][webhook] procesamiento fallido (%s), se espera redelivery: %v", ev.Kind, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "procesamiento fallido"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
