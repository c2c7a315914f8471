package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"kumbara/pkg/logging"
	"kumbara/pkg/recurring"

	"github.com/gin-gonic/gin"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	loadConfig()
	initDB()
	logger = logging.NewWithWriter(io.Discard)
	ruleStore = &gormRuleStore{db: db}
	ledger = &gormLedger{db: db}
	sched = recurring.NewScheduler(ruleStore, ledger, logger)
	r := gin.Default()
	setupRoutes(r)
	return r
}

func TestRecurringFullFlow(t *testing.T) {
	r := setupTestServer(t)
	username := fmt.Sprintf("user_%d", time.Now().UnixNano())

	// 1. Register and login
	regBody, _ := json.Marshal(map[string]string{"username": username, "password": "pass123"})
	resp := performRequest(r, http.MethodPost, "/register", bytes.NewBuffer(regBody), "")
	if resp.Code != 200 {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPost, "/login", bytes.NewBuffer(regBody), "")
	if resp.Code != 200 {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}

	// 2. Create a monthly rule starting today; the first occurrence should
	// materialize immediately.
	today := time.Now().Format("2006-01-02")
	ruleBody, _ := json.Marshal(map[string]any{
		"type":        "income",
		"amount":      1000,
		"category":    "work",
		"description": "salary",
		"account":     "bank",
		"frequency":   "monthly",
		"start_date":  today,
	})
	resp = performRequest(r, http.MethodPost, "/recurring", bytes.NewBuffer(ruleBody), token)
	if resp.Code != 200 {
		t.Fatalf("create rule failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created struct {
		Rule struct {
			ID string `json:"ID"`
		} `json:"rule"`
		Materialized []map[string]any `json:"materialized"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &created)
	if created.Rule.ID == "" {
		t.Fatalf("missing rule id in response: %s", resp.Body.String())
	}
	if len(created.Materialized) != 1 {
		t.Fatalf("expected one immediate occurrence, got %d", len(created.Materialized))
	}

	// 3. Re-evaluating the same day must be a no-op.
	resp = performRequest(r, http.MethodPost, "/recurring/evaluate", nil, token)
	if resp.Code != 200 {
		t.Fatalf("evaluate failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var evalResp struct {
		Materialized []map[string]any `json:"materialized"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &evalResp)
	if len(evalResp.Materialized) != 0 {
		t.Fatalf("same-day re-evaluation materialized %d transactions", len(evalResp.Materialized))
	}

	// 4. The ledger holds exactly one transaction and the bank balance moved.
	resp = performRequest(r, http.MethodGet, "/transactions", nil, token)
	if resp.Code != 200 {
		t.Fatalf("list transactions failed status=%d", resp.Code)
	}
	var txs []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &txs)
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	resp = performRequest(r, http.MethodGet, "/balances", nil, token)
	if resp.Code != 200 {
		t.Fatalf("balances failed status=%d", resp.Code)
	}
	// decimal amounts marshal as JSON strings
	var balances map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &balances)
	if balances["bank"] != "1000" {
		t.Fatalf("bank balance = %s, want 1000", balances["bank"])
	}

	// 5. Deactivate, then delete.
	patch, _ := json.Marshal(map[string]any{"is_active": false})
	resp = performRequest(r, http.MethodPut, "/recurring/"+created.Rule.ID, bytes.NewBuffer(patch), token)
	if resp.Code != 200 {
		t.Fatalf("deactivate failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodDelete, "/recurring/"+created.Rule.ID, nil, token)
	if resp.Code != 200 {
		t.Fatalf("delete failed status=%d body=%s", resp.Code, resp.Body.String())
	}
}

func TestRuleValidationRejectedAtBoundary(t *testing.T) {
	r := setupTestServer(t)
	username := fmt.Sprintf("user_%d", time.Now().UnixNano())
	body, _ := json.Marshal(map[string]string{"username": username, "password": "pass123"})
	performRequest(r, http.MethodPost, "/register", bytes.NewBuffer(body), "")
	resp := performRequest(r, http.MethodPost, "/login", bytes.NewBuffer(body), "")
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)

	bad, _ := json.Marshal(map[string]any{
		"type":       "income",
		"amount":     -50,
		"account":    "bank",
		"frequency":  "monthly",
		"start_date": "2024-01-01",
	})
	resp = performRequest(r, http.MethodPost, "/recurring", bytes.NewBuffer(bad), token)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("negative amount accepted: status=%d body=%s", resp.Code, resp.Body.String())
	}
}
