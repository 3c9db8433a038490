package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nexus-wms/internal/service/reservation/application"
	"nexus-wms/internal/service/reservation/domain"
	"nexus-wms/internal/service/reservation/infrastructure/memory"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

type testServer struct {
	store *memory.Store
	mux   *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore(memory.WithLockTimeout(time.Second))
	svc := application.NewReservationService(store, otel.Tracer("test"))
	reconciler := application.NewExpiryReconciler(svc, func() application.SweepSettings {
		return application.SweepSettings{BatchSize: 10}
	})
	mux := http.NewServeMux()
	NewReservationHandler(svc, reconciler).RegisterRoutes(mux)
	return &testServer{store: store, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, out
}

func key(ref string) map[string]any {
	return map[string]any{"channel": "PDD", "shop": "S1", "warehouse": 1, "ref": ref}
}

func reserveBody(ref string, item, qty int64) map[string]any {
	b := key(ref)
	b["lines"] = []map[string]any{{"item": item, "qty": qty}}
	return b
}

func TestHTTPReserveAndShortage(t *testing.T) {
	s := newTestServer(t)
	s.store.SetOnHand(7, 1, 5)

	code, body := s.do(t, http.MethodPost, "/v1/reservations/reserve", reserveBody("R-1", 7, 5))
	if code != http.StatusOK || body["status"] != "OK" || body["created"] != true {
		t.Fatalf("reserve = %d %v", code, body)
	}

	code, body = s.do(t, http.MethodPost, "/v1/reservations/reserve", reserveBody("R-2", 7, 1))
	if code != http.StatusConflict || body["reason"] != "INSUFFICIENT_AVAILABLE" {
		t.Fatalf("shortage = %d %v", code, body)
	}
}

func TestHTTPRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/v1/reservations/reserve", map[string]any{"channel": "PDD", "warehouse": 1, "ref": "R"})
	if code != http.StatusBadRequest || body["reason"] != "INVALID_REQUEST" {
		t.Errorf("missing shop = %d %v", code, body)
	}
	code, body = s.do(t, http.MethodPost, "/v1/reservations/consume", "{not json")
	if code != http.StatusBadRequest || body["reason"] != "BAD_REQUEST" {
		t.Errorf("bad json = %d %v", code, body)
	}
	code, _ = s.do(t, http.MethodGet, "/v1/availability?warehouse=x&items=1", nil)
	if code != http.StatusBadRequest {
		t.Errorf("bad warehouse = %d", code)
	}
}

func TestHTTPConsumeBeforeReserve(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/v1/reservations/consume", key("R-LATE"))
	if code != http.StatusOK || body["status"] != "NOOP" {
		t.Fatalf("consume = %d %v", code, body)
	}
	if v, present := body["reservation_id"]; !present || v != nil {
		t.Errorf("reservation_id = %v (present %v), want explicit null", v, present)
	}
}

func TestHTTPLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.store.SetOnHand(7, 1, 5)

	if code, body := s.do(t, http.MethodPost, "/v1/reservations/reserve", reserveBody("R-1", 7, 3)); code != http.StatusOK {
		t.Fatalf("reserve = %d %v", code, body)
	}
	if code, body := s.do(t, http.MethodPost, "/v1/reservations/cancel", key("R-1")); code != http.StatusOK || body["status"] != "CANCELED" {
		t.Fatalf("cancel = %d %v", code, body)
	}
	if code, body := s.do(t, http.MethodPost, "/v1/reservations/cancel", key("R-1")); code != http.StatusOK || body["status"] != "NOOP" {
		t.Fatalf("second cancel = %d %v", code, body)
	}
	if code, body := s.do(t, http.MethodPost, "/v1/reservations/release", key("R-1")); code != http.StatusOK || body["status"] != "OK" {
		t.Fatalf("release = %d %v", code, body)
	}
	code, body := s.do(t, http.MethodPost, "/v1/reservations/reserve", reserveBody("R-1", 7, 3))
	if code != http.StatusConflict || body["reason"] != "RESERVATION_NOT_OPEN" {
		t.Fatalf("reserve terminal = %d %v", code, body)
	}
}

func TestHTTPAvailabilityAndSweep(t *testing.T) {
	s := newTestServer(t)
	s.store.SetOnHand(7, 1, 5)
	s.store.SetOnHand(8, 1, 1)

	body := reserveBody("R-1", 7, 2)
	body["ttl_minutes"] = 1
	if code, resp := s.do(t, http.MethodPost, "/v1/reservations/reserve", body); code != http.StatusOK {
		t.Fatalf("reserve = %d %v", code, resp)
	}

	code, resp := s.do(t, http.MethodGet, "/v1/availability?warehouse=1&items=7,8", nil)
	if code != http.StatusOK {
		t.Fatalf("availability = %d %v", code, resp)
	}
	items := resp["items"].([]any)
	if got := items[0].(map[string]any)["available"]; got != float64(3) {
		t.Errorf("item 7 available = %v, want 3", got)
	}
	if got := items[1].(map[string]any)["available"]; got != float64(1) {
		t.Errorf("item 8 available = %v, want 1", got)
	}

	// 手动回收使用真实时间，1 分钟的预占此时尚未过期
	code, resp = s.do(t, http.MethodPost, "/v1/reservations/sweep", nil)
	if code != http.StatusOK || resp["released"] != float64(0) {
		t.Fatalf("sweep = %d %v", code, resp)
	}
}

func TestWriteErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{errors.Wrap(domain.ErrLockTimeout, "rsv:PDD:S1:1:R"), http.StatusServiceUnavailable},
		{&domain.ShortageError{Item: 7, Warehouse: 1, Need: 2}, http.StatusConflict},
		{errors.Wrap(domain.ErrInvalidLine, "item id 0"), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(context.Background(), rec, c.err)
		if rec.Code != c.code {
			t.Errorf("%v: code = %d, want %d", c.err, rec.Code, c.code)
		}
	}
}
