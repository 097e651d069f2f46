package tinysync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bitbucket.org/grupoeliane/expedicao_backend/utils"
	"github.com/gin-gonic/gin"
)

func testRouter(co *Coordinator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/sync/status", StatusHandler(co))
	r.POST("/api/sync/emission-page", EmissionPageHandler(co))
	r.POST("/api/sync/ledger", TriggerLedgerHandler(co))
	r.POST("/api/sync/catalog", TriggerCatalogHandler(co))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusHandlerReportsEmissionPageFlag(t *testing.T) {
	co := NewCoordinator()
	r := testRouter(co)

	w := doJSON(t, r, http.MethodPost, "/api/sync/emission-page", `{"active":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("emission-page status = %d, want 200", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/sync/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var status StatusResponse
	if err := utils.UnmarshalFromJSON(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.EmissionPageActive {
		t.Error("status should report emission page active")
	}
}

func TestTriggerLedgerValidatesAccount(t *testing.T) {
	co := NewCoordinator()
	r := testRouter(co)

	if w := doJSON(t, r, http.MethodPost, "/api/sync/ledger", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing account status = %d, want 400", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/sync/ledger", `{"account":"nobody"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown account status = %d, want 400", w.Code)
	}
}

func TestTriggerCatalogRefusedWhileCatalogRunning(t *testing.T) {
	co := NewCoordinator()
	if err := co.BeginCatalog(context.Background(), "eliane"); err != nil {
		t.Fatalf("BeginCatalog: %v", err)
	}
	defer co.EndCatalog()
	r := testRouter(co)

	w := doJSON(t, r, http.MethodPost, "/api/sync/catalog", `{"account":"eliane"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestTriggerLedgerRefusedWhileEmissionPageActive(t *testing.T) {
	t.Setenv("TINY_TOKEN_ELIANE", "tok")

	co := NewCoordinator()
	co.SetEmissionPageActive(true)
	r := testRouter(co)

	w := doJSON(t, r, http.MethodPost, "/api/sync/ledger", `{"account":"eliane"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}
