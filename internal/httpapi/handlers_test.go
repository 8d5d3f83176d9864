package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stokcabang/backend/internal/domain"
	"stokcabang/backend/internal/service"
	"stokcabang/backend/internal/store"
	"stokcabang/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, 0, 0)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, nil, "*")
}

// doJSON issues an authenticated JSON request against the API and decodes the
// response body into dest when dest is non-nil.
func doJSON(t *testing.T, api *API, method, path, token, csrf string, payload any, dest any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if dest != nil && res.Code < 300 {
		if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return res
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_ManagerCarriesBranch(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(domain.LoginRequest{Username: "manager-bandung", Password: "manager123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token in response")
	}
	if resp.Role != domain.RoleManager {
		t.Fatalf("expected manager role, got %q", resp.Role)
	}
	if resp.BranchID != "branch-bandung" {
		t.Fatalf("expected branch-bandung, got %q", resp.BranchID)
	}
}

func TestStockHealthVisibleToAdmin(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	var resp domain.StockHealthResponse
	res := doJSON(t, api, http.MethodGet, "/api/v1/stock-health", token, "", nil, &resp)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	// Seeded catalog: 6 items across 3 branches.
	if len(resp.Metrics) != 18 {
		t.Fatalf("expected 18 metrics, got %d", len(resp.Metrics))
	}
	for _, m := range resp.Metrics {
		if m.Status != domain.StockHealthy && m.Status != domain.StockLow && m.Status != domain.StockSurplus {
			t.Fatalf("unexpected status %q", m.Status)
		}
	}
}

func TestTransferRequestLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)
	requester := loginAs(t, api, "manager-pusat", "manager123")
	donor := loginAs(t, api, "manager-bandung", "manager123")

	var created domain.TransferRequest
	res := doJSON(t, api, http.MethodPost, "/api/v1/transfer-requests", requester, csrf, domain.TransferRequestCreate{
		TargetBranchID: "branch-bandung",
		ItemID:         "item-beras-5kg",
		Quantity:       15,
		Reason:         "weekend promo",
	}, &created)
	if res.Code != http.StatusCreated {
		t.Fatalf("create request: expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	if created.RequestedByBranchID != "branch-pusat" {
		t.Fatalf("expected requester branch to be forced, got %q", created.RequestedByBranchID)
	}
	if created.Status != domain.TransferPending {
		t.Fatalf("expected PENDING, got %q", created.Status)
	}

	approvePath := fmt.Sprintf("/api/v1/transfer-requests/%s/approve", created.ID)

	// The requesting branch cannot approve its own ask.
	res = doJSON(t, api, http.MethodPost, approvePath, requester, csrf, nil, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("requester approval: expected 403, got %d (body: %s)", res.Code, res.Body.String())
	}

	var settlement store.Settlement
	res = doJSON(t, api, http.MethodPost, approvePath, donor, csrf, nil, &settlement)
	if res.Code != http.StatusOK {
		t.Fatalf("donor approval: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if settlement.SourceAfter != 65 || settlement.DestAfter != 95 {
		t.Fatalf("expected 65/95 after transfer, got %d/%d", settlement.SourceAfter, settlement.DestAfter)
	}

	// Settlement is final.
	res = doJSON(t, api, http.MethodPost, approvePath, donor, csrf, nil, nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("second approval: expected 409, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestRebalanceRunOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)
	admin := loginAs(t, api, "admin", "admin123")

	// Drain one branch so exactly one shortage appears.
	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", admin, csrf, domain.SaleCreateRequest{
		BranchID:         "branch-pusat",
		ItemID:           "item-beras-5kg",
		QuantitySold:     70,
		TotalAmountCents: 70 * 85000,
		PaymentMode:      "cash",
	}, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("record sale: expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}

	var result domain.RebalanceRunResult
	res = doJSON(t, api, http.MethodPost, "/api/v1/rebalance/run", admin, csrf, nil, &result)
	if res.Code != http.StatusOK {
		t.Fatalf("rebalance run: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if result.RecommendationsCreated != 1 {
		t.Fatalf("expected 1 recommendation, got %d", result.RecommendationsCreated)
	}

	var listing struct {
		Recommendations []domain.TransferRecommendation `json:"recommendations"`
	}
	res = doJSON(t, api, http.MethodGet, "/api/v1/recommendations?status=PENDING", admin, "", nil, &listing)
	if res.Code != http.StatusOK {
		t.Fatalf("list recommendations: expected 200, got %d", res.Code)
	}
	if len(listing.Recommendations) != 1 {
		t.Fatalf("expected 1 pending recommendation, got %d", len(listing.Recommendations))
	}
	rec := listing.Recommendations[0]
	if rec.ToBranchID != "branch-pusat" {
		t.Fatalf("expected recommendation toward branch-pusat, got %q", rec.ToBranchID)
	}

	var settlement store.Settlement
	res = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/recommendations/%s/approve", rec.ID), admin, csrf, nil, &settlement)
	if res.Code != http.StatusOK {
		t.Fatalf("approve recommendation: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if settlement.DestAfter != 10+rec.SuggestedQuantity {
		t.Fatalf("expected destination stock %d, got %d", 10+rec.SuggestedQuantity, settlement.DestAfter)
	}
}

func TestRejectRecommendationRequiresNoBodyFields(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)
	admin := loginAs(t, api, "admin", "admin123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/recommendations/rec-missing/reject", admin, csrf,
		domain.TransferRejectRequest{Reason: "not worth the freight"}, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown recommendation, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestNotificationMarkRead(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)
	requester := loginAs(t, api, "manager-pusat", "manager123")
	donor := loginAs(t, api, "manager-bandung", "manager123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/transfer-requests", requester, csrf, domain.TransferRequestCreate{
		TargetBranchID: "branch-bandung",
		ItemID:         "item-gula-1kg",
		Quantity:       5,
		Reason:         "restock",
	}, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("create request: expected 201, got %d", res.Code)
	}

	var listing struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	res = doJSON(t, api, http.MethodGet, "/api/v1/notifications", donor, "", nil, &listing)
	if res.Code != http.StatusOK {
		t.Fatalf("list notifications: expected 200, got %d", res.Code)
	}
	if len(listing.Notifications) == 0 {
		t.Fatalf("expected donor branch to be notified")
	}

	target := listing.Notifications[0]
	res = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/notifications/%s/read", target.ID), donor, csrf, nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestCreateBranchRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)
	manager := loginAs(t, api, "manager-pusat", "manager123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/branches", manager, csrf, domain.BranchCreateRequest{
		Name: "Cabang Depok",
		City: "Depok",
	}, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager branch creation, got %d (body: %s)", res.Code, res.Body.String())
	}

	admin := loginAs(t, api, "admin", "admin123")
	var branch domain.Branch
	res = doJSON(t, api, http.MethodPost, "/api/v1/branches", admin, csrf, domain.BranchCreateRequest{
		Name: "Cabang Depok",
		City: "Depok",
	}, &branch)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	if branch.ID == "" || branch.Name != "Cabang Depok" {
		t.Fatalf("unexpected branch payload: %+v", branch)
	}
}
