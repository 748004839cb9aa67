package login

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"aula-backend/config"
	mailer "aula-backend/email"
	"aula-backend/migrations"
	"aula-backend/subscriptions"
)

// Duración del trial de sistema que se otorga al verificar el correo.
const systemTrialDays = 30

var (
	cfg      *config.Config
	mail     *mailer.Mailer
	subsRepo *subscriptions.Repository
)

// Init inyecta las dependencias del paquete; se llama una vez desde main.
func Init(c *config.Config, m *mailer.Mailer, s *subscriptions.Repository) {
	cfg, mail, subsRepo = c, m, s
}

// --- Referral linker adapter ---
// Indirección para no acoplar login con el ledger de referidos; main la provee.

var referralLinker = func(code string, newUserID int) {}

// RegisterReferralLinker allows main to provide the referral hookup.
func RegisterReferralLinker(fn func(code string, newUserID int)) { referralLinker = fn }

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// blacklist for manual logout (tokens -> expiry). Not persisted; acceptable for MVP.
var blacklist = map[string]int64{}

// tokenPayload minimal JWT-like payload
type tokenPayload struct {
	Email string `json:"email"`
	Exp   int64  `json:"exp"`
	Rem   bool   `json:"rem"`           // remember flag
	Jti   string `json:"jti"`           // unique id
	Pur   string `json:"pur,omitempty"` // purpose: "" sesión, "verify" correo
}

func sessionDurations(remember bool) time.Duration {
	if remember {
		return time.Hour * 24 * 30
	}
	return time.Hour * 12
}

func sessionSecret() []byte {
	if cfg == nil || cfg.SessionSecret == "" {
		return []byte("dev-insecure-secret")
	}
	return []byte(cfg.SessionSecret)
}

func signToken(email string, dur time.Duration, remember bool, purpose string) (string, int64, error) {
	exp := time.Now().Add(dur).Unix()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadBytes, _ := json.Marshal(tokenPayload{Email: email, Exp: exp, Rem: remember, Jti: generateJTI(), Pur: purpose})
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	mac := hmac.New(sha256.New, sessionSecret())
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig, exp, nil
}

func parseToken(token string) (tokenPayload, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return tokenPayload{}, false
	}
	unsigned := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, sessionSecret())
	mac.Write([]byte(unsigned))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return tokenPayload{}, false
	}
	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return tokenPayload{}, false
	}
	var tp tokenPayload
	if err := json.Unmarshal(pb, &tp); err != nil {
		return tokenPayload{}, false
	}
	if tp.Exp < time.Now().Unix() {
		return tokenPayload{}, false
	}
	if exp, blk := blacklist[token]; blk && exp >= time.Now().Unix() {
		return tokenPayload{}, false
	}
	return tp, true
}

func generateJTI() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405")
	}
	return hex.EncodeToString(b)
}

// GetEmailFromToken validates signature + expiry and returns email
func GetEmailFromToken(token string) (string, bool) {
	tp, ok := parseToken(token)
	if !ok || tp.Pur != "" {
		return "", false
	}
	return tp.Email, true
}

func hashPassword(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(h), err
}

func verifyPassword(provided, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(provided)) == nil
}

func userResponse(user *migrations.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"first_name":     user.FirstName,
		"last_name":      user.LastName,
		"email":          user.Email,
		"full_name":      user.FirstName + " " + user.LastName,
		"role":           user.Role,
		"referral_code":  user.ReferralCode,
		"email_verified": user.EmailVerified,
		"language":       "es",
		"created_at":     user.CreatedAt.Format(time.RFC3339),
		"updated_at":     user.UpdatedAt.Format(time.RFC3339),
	}
}

func Handler(c *gin.Context) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos"})
		return
	}

	// Normalize inputs
	creds.Email = strings.TrimSpace(strings.ToLower(creds.Email))
	creds.Password = strings.TrimSpace(creds.Password)

	user := migrations.GetUserByEmail(creds.Email)
	if user != nil && verifyPassword(creds.Password, user.Password) {
		dur := sessionDurations(creds.Remember)
		token, exp, _ := signToken(user.Email, dur, creds.Remember, "")
		c.JSON(http.StatusOK, gin.H{"token": token, "user": userResponse(user), "expires_at": exp, "remember": creds.Remember})
	} else {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Credenciales inválidas"})
	}
}

func SessionHandler(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
		return
	}
	tp, ok := parseToken(token)
	if !ok || tp.Pur != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
		return
	}
	user := migrations.GetUserByEmail(tp.Email)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Usuario no encontrado"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": userResponse(user)})
}

// LogoutHandler invalidates the token
func LogoutHandler(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token requerido"})
		return
	}
	// Add to blacklist until its natural expiry (best effort)
	if tp, ok := parseToken(token); ok {
		blacklist[token] = tp.Exp
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sesión cerrada"})
}

type RegisterPayload struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	ReferralCode string `json:"referralCode"`
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func RegisterHandler(c *gin.Context) {
	var p RegisterPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos"})
		return
	}
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Email == "" || p.Password == "" || p.FirstName == "" || p.LastName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Campos requeridos faltantes"})
		return
	}
	role := p.Role
	if role != "teacher" && role != "admin" {
		role = "student"
	}
	if exists, err := migrations.EmailExists(p.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error validando usuario"})
		return
	} else if exists {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "El correo ya está registrado"})
		return
	}
	hashed, err := hashPassword(p.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo crear el usuario"})
		return
	}
	userID, err := migrations.CreateUser(p.FirstName, p.LastName, p.Email, hashed, role, newReferralCode())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo crear el usuario"})
		return
	}
	// El enlace referidor → referido se crea una sola vez, aquí.
	if p.ReferralCode != "" {
		referralLinker(strings.ToUpper(strings.TrimSpace(p.ReferralCode)), userID)
	}
	if mail != nil {
		token, _, _ := signToken(p.Email, 48*time.Hour, false, "verify")
		link := fmt.Sprintf("%s/verify-email?token=%s", cfg.AppBaseURL, token)
		mail.SendVerification(p.Email, link)
	}
	c.Status(http.StatusCreated)
}

// VerifyEmailHandler confirma el correo y otorga el trial de sistema de 30
// días (una fila trialing con plan_id NULL). Idempotente: verificar dos
// veces no crea otro trial.
func VerifyEmailHandler(c *gin.Context) {
	token := c.Query("token")
	tp, ok := parseToken(token)
	if !ok || tp.Pur != "verify" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token inválido o expirado"})
		return
	}
	user := migrations.GetUserByEmail(tp.Email)
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Usuario no encontrado"})
		return
	}
	if err := migrations.MarkEmailVerified(user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo verificar el correo"})
		return
	}
	if subsRepo != nil {
		if err := subsRepo.EnsureSystemTrial(user.ID, systemTrialDays); err != nil {
			log.Printf("[LOGIN][verify] trial de sistema no creado para user=%d: %v", user.ID, err)
		}
	}
	// Bienvenida solo en la primera verificación; reverificar es un no-op.
	if mail != nil && !user.EmailVerified {
		mail.SendWelcome(user.Email)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Correo verificado"})
}

type ChangePasswordPayload struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func ChangePasswordHandler(c *gin.Context) {
	var p ChangePasswordPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos"})
		return
	}
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	userEmail, ok := GetEmailFromToken(token)
	if !ok || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
		return
	}
	user := migrations.GetUserByEmail(userEmail)
	if user == nil || !verifyPassword(p.OldPassword, user.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Credenciales inválidas"})
		return
	}
	hashed, err := hashPassword(p.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo actualizar la contraseña"})
		return
	}
	if err := migrations.UpdateUserPassword(user.ID, hashed); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo actualizar la contraseña"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Contraseña actualizada"})
}

// RefreshHandler issues a new token preserving remember flag while previous token is blacklisted.
func RefreshHandler(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token requerido"})
		return
	}
	tp, ok := parseToken(token)
	if !ok || tp.Pur != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido o expirado"})
		return
	}
	dur := time.Until(time.Unix(tp.Exp, 0))
	// Recalculate full duration based on remember flag if remaining <50% to extend period
	baseDur := sessionDurations(tp.Rem)
	if dur < baseDur/2 {
		dur = baseDur
	}
	newToken, newExp, _ := signToken(tp.Email, dur, tp.Rem, "")
	// Blacklist old token
	blacklist[token] = tp.Exp
	c.JSON(http.StatusOK, gin.H{"token": newToken, "expires_at": newExp, "remember": tp.Rem})
}

// TokenExpiryHeader middleware adds X-Token-Expires-At when token válido.
func TokenExpiryHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != "" {
			if tp, ok := parseToken(token); ok {
				c.Writer.Header().Set("X-Token-Expires-At", strconv.FormatInt(tp.Exp, 10))
				if tp.Rem {
					c.Writer.Header().Set("X-Token-Remember", "1")
				}
			}
		}
		c.Next()
	}
}
