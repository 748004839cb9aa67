package classes

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Class es el resultado de una compra única "class purchase": la crea el
// reconciliador del webhook, nunca este paquete.
type Class struct {
	ID              int       `json:"id"`
	OwnerUserID     int       `json:"owner_user_id"`
	Name            string    `json:"name"`
	JoinCode        string    `json:"join_code"`
	StripeSessionID string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListByOwner(ownerID int) ([]Class, error) {
	rows, err := r.db.Query(`SELECT id, owner_user_id, name, join_code, stripe_session_id, created_at FROM classes WHERE owner_user_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Class{}
	for rows.Next() {
		var cl Class
		if err := rows.Scan(&cl.ID, &cl.OwnerUserID, &cl.Name, &cl.JoinCode, &cl.StripeSessionID, &cl.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}

func (r *Repository) GetByJoinCode(code string) (*Class, error) {
	row := r.db.QueryRow(`SELECT id, owner_user_id, name, join_code, stripe_session_id, created_at FROM classes WHERE join_code = ? LIMIT 1`, code)
	var cl Class
	if err := row.Scan(&cl.ID, &cl.OwnerUserID, &cl.Name, &cl.JoinCode, &cl.StripeSessionID, &cl.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &cl, nil
}

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/classes", h.list)
	r.GET("/classes/:join_code", h.getByCode)
}

func (h *Handler) list(c *gin.Context) {
	ownerID := 0
	if v := c.Query("owner_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			ownerID = id
		}
	}
	if ownerID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id requerido"})
		return
	}
	list, err := h.repo.ListByOwner(ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *Handler) getByCode(c *gin.Context) {
	cl, err := h.repo.GetByJoinCode(c.Param("join_code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Clase no encontrada"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cl})
}

