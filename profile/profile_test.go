package profile

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(nil, nil, nil).RegisterRoutes(r)
	return r
}

func TestDeleteAccount_RequiresToken(t *testing.T) {
	r := setupRouter()

	req := httptest.NewRequest(http.MethodDelete, "/user-detail/5", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("sin token esperaba 401, llegó %d", w.Code)
	}
}

func TestUpdateProfile_RequiresToken(t *testing.T) {
	r := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/user-detail/5", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("sin token esperaba 401, llegó %d", w.Code)
	}
}
