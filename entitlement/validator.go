package entitlement

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"aula-backend/login"
	"aula-backend/subscriptions"
)

// Validator decide si un usuario tiene acceso premium, derivándolo de su
// suscripción primaria y del flag is_permanent_free.
type Validator struct {
	subs *subscriptions.Repository
}

func NewValidator(repo *subscriptions.Repository) *Validator { return &Validator{subs: repo} }

// Validate identifica al usuario por el token de Authorization y comprueba
// su entitlement actual.
func (v *Validator) Validate(c *gin.Context) error {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		log.Printf("[entitlement][deny] reason=missing_token")
		return errors.New("missing token")
	}
	email, ok := login.GetEmailFromToken(token)
	if !ok {
		log.Printf("[entitlement][deny] reason=invalid_session token_prefix=%s", tokenSummary(token))
		return errors.New("invalid session")
	}
	u := userResolver(email)
	if u == nil {
		log.Printf("[entitlement][deny] email=%s reason=user_not_found", email)
		return errors.New("user not found")
	}
	if u.IsPermanentFree {
		return nil
	}
	primary, err := v.subs.GetPrimarySubscription(u.ID)
	if err != nil {
		log.Printf("[entitlement][error] user_id=%d email=%s err=%v", u.ID, email, err)
		return err
	}
	if !subscriptions.Entitled(primary, u.IsPermanentFree, time.Now()) {
		log.Printf("[entitlement][deny] user_id=%d email=%s reason=not_subscribed", u.ID, email)
		return errors.New("subscription required")
	}
	return nil
}

// tokenSummary returns a short (safe) representation of a token for logs
func tokenSummary(t string) string {
	if len(t) <= 8 {
		return t
	}
	return t[:4] + "..." + t[len(t)-4:]
}

// --- User resolver adapter ---
// We keep this indirection to avoid tight coupling with migrations/internal user structures.

var userResolver = func(email string) *UserLite { return nil }

// RegisterUserResolver allows main to provide a resolver.
func RegisterUserResolver(fn func(email string) *UserLite) { userResolver = fn }

// UserLite minimal projection
type UserLite struct {
	ID              int
	Email           string
	IsPermanentFree bool
}

// Middleware corta la petición con 403 cuando el usuario no está suscrito.
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(c); err != nil {
			c.JSON(403, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}
