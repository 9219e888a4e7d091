package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sitesmith-dev/sitesmith/internal/config"
	"github.com/sitesmith-dev/sitesmith/internal/db"
	"gorm.io/gorm"
)

func setupAuthTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := db.Open(fmt.Sprintf("file:auth_%d?mode=memory&cache=shared", time.Now().UnixNano()))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	handler := NewAuthHandler(conn, config.JWTConfig{Secret: "test-secret", ExpiryHours: 1})
	router := gin.New()
	router.POST("/register", handler.Register)
	router.POST("/login", handler.Login)
	router.POST("/reset-password", handler.ResetPassword)
	return router, conn
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		t.Fatalf("marshal body: %v", errMarshal)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterThenLogin(t *testing.T) {
	router, _ := setupAuthTestRouter(t)

	rec := postJSON(t, router, "/register", gin.H{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "hunter2!",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Tier string `json:"tier"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode register response: %v", errDecode)
	}
	if created.Tier != "free" {
		t.Fatalf("new account tier = %q, want free", created.Tier)
	}

	rec = postJSON(t, router, "/login", gin.H{"username": "alice", "password": "hunter2!"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var session struct {
		Token string `json:"token"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &session); errDecode != nil {
		t.Fatalf("decode login response: %v", errDecode)
	}
	if session.Token == "" {
		t.Fatalf("expected a session token")
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	router, _ := setupAuthTestRouter(t)

	rec := postJSON(t, router, "/register", gin.H{"username": "eve", "password": "short"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password register status = %d, want 400", rec.Code)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	router, _ := setupAuthTestRouter(t)

	rec := postJSON(t, router, "/register", gin.H{"username": "bob", "password": "password-one"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", rec.Code)
	}

	rec = postJSON(t, router, "/register", gin.H{"username": "bob", "password": "password-two"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", rec.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	router, _ := setupAuthTestRouter(t)

	rec := postJSON(t, router, "/register", gin.H{"username": "carol", "password": "right-pw"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}

	rec = postJSON(t, router, "/login", gin.H{"username": "carol", "password": "wrong-pw"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login status = %d, want 401", rec.Code)
	}

	rec = postJSON(t, router, "/login", gin.H{"username": "nobody", "password": "whatever"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user login status = %d, want 401", rec.Code)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	router, _ := setupAuthTestRouter(t)

	rec := postJSON(t, router, "/register", gin.H{
		"username": "dave",
		"email":    "dave@example.com",
		"password": "old-password",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}

	rec = postJSON(t, router, "/reset-password", gin.H{
		"username":     "dave",
		"email":        "wrong@example.com",
		"new_password": "new-password",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("reset with wrong email status = %d, want 404", rec.Code)
	}

	rec = postJSON(t, router, "/reset-password", gin.H{
		"username":     "dave",
		"email":        "dave@example.com",
		"new_password": "new-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, router, "/login", gin.H{"username": "dave", "password": "old-password"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old password login status = %d, want 401", rec.Code)
	}
	rec = postJSON(t, router, "/login", gin.H{"username": "dave", "password": "new-password"})
	if rec.Code != http.StatusOK {
		t.Fatalf("new password login status = %d, want 200", rec.Code)
	}
}
