package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/cart"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/checkout"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrdersHandler struct {
	Placer   *checkout.Placer
	Orders   orders.Store
	Status   *orders.Service
	Carts    cart.Repository
	Redis    redis.Cmdable // idempotency fast path; nil disables it
	Operator func(http.Handler) http.Handler
	Logger   *slog.Logger
}

type placeOrderReq struct {
	Address       orders.Address `json:"address"`
	PaymentMethod string         `json:"paymentMethod"`
	// Lines defaults to the stored cart when empty.
	Lines []lineInput `json:"lines"`
}

type lineInput struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type placeOrderResp struct {
	Order    orders.Order `json:"order"`
	Replayed bool         `json:"replayed"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.With(RequireUser).Post("/cod", h.placeCOD)
		r.With(RequireUser).Get("/mine", h.listMine)
		r.With(RequireUser).Get("/{id}/status", h.getStatus)
		r.With(h.Operator).Get("/", h.listAll)
		r.With(h.Operator).Patch("/{id}/status", h.setStatus)
		r.With(h.Operator).Patch("/{id}/payment", h.setPayment)
	})
}

func (h *OrdersHandler) placeCOD(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userID := UserID(ctx)
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))

	// Fast-path idempotency via Redis; the unique index stays the source of truth
	if o, ok := h.replayed(ctx, userID, key); ok {
		writeJSON(w, http.StatusOK, placeOrderResp{Order: o, Replayed: true})
		return
	}

	lines, err := h.lines(ctx, userID, req.Lines)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	res, err := h.Placer.PlaceOrder(ctx, checkout.Request{
		UserID:         userID,
		Lines:          lines,
		Address:        req.Address,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: key,
		TraceID:        middleware.GetReqID(ctx),
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if key != "" && h.Redis != nil {
		if err := h.Redis.Set(ctx, redisx.IdemOrderKey(userID, key), res.Order.ID, redisx.TTLIdempotency).Err(); err != nil {
			h.Logger.Warn("idempotency cache write failed", "order_id", res.Order.ID, "err", err)
		}
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, placeOrderResp{Order: res.Order, Replayed: res.Replayed})
}

func (h *OrdersHandler) replayed(ctx context.Context, userID, key string) (orders.Order, bool) {
	if key == "" || h.Redis == nil {
		return orders.Order{}, false
	}
	id, err := h.Redis.Get(ctx, redisx.IdemOrderKey(userID, key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.Logger.Warn("idempotency cache read failed", "user_id", userID, "err", err)
		}
		return orders.Order{}, false
	}
	o, err := h.Orders.Get(ctx, id)
	if err != nil || o.UserID != userID {
		return orders.Order{}, false
	}
	return o, true
}

// lines converts the body lines, or falls back to the stored cart as is.
// Stock is checked by the placer under lock; a short line rejects the whole
// order instead of being trimmed here.
func (h *OrdersHandler) lines(ctx context.Context, userID string, in []lineInput) ([]cart.Line, error) {
	if len(in) > 0 {
		out := make([]cart.Line, 0, len(in))
		for _, l := range in {
			size, err := catalog.ParseSize(l.Size)
			if err != nil {
				return nil, err
			}
			out = append(out, cart.Line{ProductID: l.ProductID, Size: size, Quantity: l.Quantity})
		}
		return out, nil
	}
	stored, err := h.Carts.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]cart.Line, 0, len(stored))
	for _, l := range stored {
		if l.Quantity > 0 {
			out = append(out, cart.Line{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity})
		}
	}
	return out, nil
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListByUser(ctx, UserID(ctx))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Orders.ListAll(ctx)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

// getStatus serves the shopper's own order status. Other shoppers' orders
// look missing.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	v, err := h.Status.Status(ctx, id)
	if err == nil && v.UserID != UserID(ctx) {
		err = apperr.NotFound("order", id)
	}
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type setStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.Status.SetStatus(ctx, id, orders.Status(req.Status)); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": id, "status": req.Status, "message": "Status Updated"})
}

type setPaymentReq struct {
	Payment *bool `json:"payment"`
}

func (h *OrdersHandler) setPayment(w http.ResponseWriter, r *http.Request) {
	var req setPaymentReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if req.Payment == nil {
		writeError(w, r, h.Logger, apperr.Invalid("invalid payment update", map[string]string{"payment": "required"}))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.Status.SetPayment(ctx, id, *req.Payment); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": id, "payment": *req.Payment})
}
