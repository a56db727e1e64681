package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront/internal/cart"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	Carts   cart.Repository
	Catalog *catalog.Cache
	Logger  *slog.Logger
}

type setLineReq struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/", h.get)
		r.Put("/items", h.setLine)
		r.Delete("/", h.clear)
	})
}

// get reconciles the stored cart against the current catalog.
func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	lines, err := h.Carts.Load(ctx, UserID(ctx))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.respond(ctx, w, r, lines)
}

func (h *CartHandler) setLine(w http.ResponseWriter, r *http.Request) {
	var req setLineReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	size, err := catalog.ParseSize(req.Size)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	lines, err := h.Carts.Update(ctx, UserID(ctx), cart.Set(cart.Key{ProductID: req.ProductID, Size: size}, req.Quantity))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.respond(ctx, w, r, lines)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Carts.Clear(ctx, UserID(ctx)); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) respond(ctx context.Context, w http.ResponseWriter, r *http.Request, lines []cart.Line) {
	snap, err := h.Catalog.Fresh(ctx)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cart.Summarize(lines, snap))
}
