package procurement

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	_ "github.com/refinery-erp/refinery-erp/internal/testing/guard"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	svc, _ := newTestService()
	r := chi.NewRouter()
	r.Route("/api/procurement/purchase-orders", NewHandler(nil, svc).MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestCreateDraftEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/procurement/purchase-orders"

	resp, body := doJSON(t, http.MethodPost, base, `{"supplierCode":"ACME-VLV","supplierName":"Acme Valve Co."}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "DRAFT", body["status"])
	require.Equal(t, "0.00", body["totalAmount"])
	require.NotEmpty(t, body["id"])
	require.Nil(t, body["poNumber"])

	resp, body = doJSON(t, http.MethodPost, base, `{"supplierCode":"ACME-VLV"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Validation Failed", body["title"])
}

func TestSupplierMismatchEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/procurement/purchase-orders"

	_, created := doJSON(t, http.MethodPost, base, `{"supplierCode":"ACME-VLV","supplierName":"Acme Valve Co."}`)
	id := created["id"].(string)

	resp, _ := doJSON(t, http.MethodPost, base+"/"+id+"/lines", `{"catalogItemId":"VLV-3001","quantity":2}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, base+"/"+id+"/lines", `{"catalogItemId":"PMP-7700"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "SUPPLIER_MISMATCH", body["code"])
	require.Contains(t, body["detail"], "ACME-VLV")
	require.Contains(t, body["detail"], "BOR-PMP")
}

func TestLifecycleEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/procurement/purchase-orders"

	_, created := doJSON(t, http.MethodPost, base, `{"supplierCode":"ACME-VLV","supplierName":"Acme Valve Co."}`)
	id := created["id"].(string)

	// Submitting an empty draft fails.
	resp, _ := doJSON(t, http.MethodPost, base+"/"+id+"/submit", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, base+"/"+id+"/lines", `{"catalogItemId":"VLV-3001"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, submitted := doJSON(t, http.MethodPost, base+"/"+id+"/submit", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "SUBMITTED", submitted["status"])
	require.Regexp(t, `^PO-\d{4}-\d{5}$`, submitted["poNumber"])

	// Approving a DRAFT is impossible; approving SUBMITTED works.
	resp, _ = doJSON(t, http.MethodPost, base+"/"+id+"/fulfill", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, approved := doJSON(t, http.MethodPost, base+"/"+id+"/approve", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "APPROVED", approved["status"])

	resp, fulfilled := doJSON(t, http.MethodPost, base+"/"+id+"/fulfill", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "FULFILLED", fulfilled["status"])

	resp, full := doJSON(t, http.MethodGet, base+"/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	timeline := full["timeline"].([]any)
	require.Len(t, timeline, 4)
	first := timeline[0].(map[string]any)
	require.Equal(t, "DRAFT", first["toStatus"])
	require.Equal(t, "System", first["changedBy"])
}

func TestLineAndHeaderEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/procurement/purchase-orders"

	_, created := doJSON(t, http.MethodPost, base, `{"supplierCode":"ACME-VLV","supplierName":"Acme Valve Co."}`)
	id := created["id"].(string)

	_, line := doJSON(t, http.MethodPost, base+"/"+id+"/lines", `{"catalogItemId":"VLV-3001","quantity":4}`)
	lineID := line["id"].(string)
	require.Equal(t, "1250.00", line["unitPrice"])

	resp, updated := doJSON(t, http.MethodPatch, base+"/"+id+"/lines/"+lineID, `{"quantity":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(2), updated["quantity"])

	resp, po := doJSON(t, http.MethodGet, base+"/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "2500.00", po["totalAmount"])

	resp, patched := doJSON(t, http.MethodPatch, base+"/"+id, `{"requestor":"Casey","costCenter":"RF-OPS-100"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Casey", patched["requestor"])

	resp, _ = doJSON(t, http.MethodPatch, base+"/"+id, `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, base+"/"+id+"/lines/"+lineID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, base+"/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, base+"/"+id, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/procurement/purchase-orders"

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodPost, base, `{"supplierCode":"ACME-VLV","supplierName":"Acme Valve Co."}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, base+"?page=1&limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["purchaseOrders"], 2)
	pagination := body["pagination"].(map[string]any)
	require.Equal(t, float64(3), pagination["total"])
	require.Equal(t, float64(2), pagination["totalPages"])
}

func TestInvalidIDReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/procurement/purchase-orders/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
