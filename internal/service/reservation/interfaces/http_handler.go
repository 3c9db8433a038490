package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/service/reservation/application"
	"nexus-wms/internal/service/reservation/domain"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Sweeper 是手动触发过期回收需要的能力
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ReservationHandler 封装了预占服务的 HTTP 处理器
type ReservationHandler struct {
	service *application.ReservationService
	sweeper Sweeper
}

func NewReservationHandler(service *application.ReservationService, sweeper Sweeper) *ReservationHandler {
	return &ReservationHandler{service: service, sweeper: sweeper}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *ReservationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/reservations/reserve", h.handleReserve)
	mux.HandleFunc("POST /v1/reservations/consume", h.handleConsume)
	mux.HandleFunc("POST /v1/reservations/release", h.handleRelease)
	mux.HandleFunc("POST /v1/reservations/cancel", h.handleCancel)
	mux.HandleFunc("POST /v1/reservations/sweep", h.handleSweep)
	mux.HandleFunc("GET /v1/availability", h.handleAvailability)
}

// errorResponse 是所有失败请求的响应体
type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (h *ReservationHandler) handleReserve(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	var req application.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	resp, err := h.service.Reserve(ctx, &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ReservationHandler) handleConsume(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Consume)
}

func (h *ReservationHandler) handleRelease(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Release)
}

func (h *ReservationHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Cancel)
}

func (h *ReservationHandler) handleTransition(w http.ResponseWriter, r *http.Request,
	op func(context.Context, *application.KeyRequest) (*application.TransitionResponse, error)) {
	ctx := extract(r)
	var req application.KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	resp, err := op(ctx, &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ReservationHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	released, err := h.sweeper.Sweep(ctx, time.Now().UTC())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, application.SweepResponse{Released: released})
}

func (h *ReservationHandler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	q := r.URL.Query()

	warehouse, err := strconv.ParseInt(q.Get("warehouse"), 10, 64)
	if err != nil {
		writeError(ctx, w, errors.Wrap(errBadRequest, "warehouse must be an integer"))
		return
	}
	var items []int64
	for _, s := range strings.Split(q.Get("items"), ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		item, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(ctx, w, errors.Wrapf(errBadRequest, "invalid item %q", s))
			return
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		writeError(ctx, w, errors.Wrap(errBadRequest, "items is required"))
		return
	}

	resp, err := h.service.Availability(ctx, &application.AvailabilityRequest{Warehouse: warehouse, Items: items})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

var errBadRequest = errors.New("bad request")

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// writeError 根据错误类型返回不同的 HTTP 状态码
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		code   int
		reason string
	)
	switch {
	case errors.Is(err, errBadRequest):
		code, reason = http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, domain.ErrInvalidKey), errors.Is(err, domain.ErrInvalidLine):
		code, reason = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrInsufficientAvailable):
		code, reason = http.StatusConflict, "INSUFFICIENT_AVAILABLE"
	case errors.Is(err, domain.ErrReservationNotOpen):
		code, reason = http.StatusConflict, "RESERVATION_NOT_OPEN"
	case errors.Is(err, domain.ErrLockTimeout):
		code, reason = http.StatusServiceUnavailable, "LOCK_TIMEOUT"
	default:
		code, reason = http.StatusInternalServerError, "INTERNAL"
		logger.Ctx(ctx).Error().Err(err).Msg("❌ Request failed")
	}
	writeJSON(w, code, errorResponse{Status: "ERROR", Error: err.Error(), Reason: reason})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
