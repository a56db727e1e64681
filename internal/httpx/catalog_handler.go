package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type CatalogHandler struct {
	Store    catalog.Store
	Cache    *catalog.Cache
	Operator func(http.Handler) http.Handler
	Logger   *slog.Logger
}

type productInput struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Price       decimal.Decimal     `json:"price"`
	Category    string              `json:"category"`
	SubCategory string              `json:"subCategory"`
	Images      []string            `json:"images"`
	BestSeller  bool                `json:"bestSeller"`
	Sizes       []catalog.SizeStock `json:"sizes"`
	// Version, when set on edit, must match the stored version.
	Version int64 `json:"version"`
}

func (in productInput) product(id string) catalog.Product {
	return catalog.Product{
		ID: id, Name: in.Name, Description: in.Description, Price: in.Price,
		Category: in.Category, SubCategory: in.SubCategory, Images: in.Images,
		BestSeller: in.BestSeller, Sizes: in.Sizes,
	}
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.With(h.Operator).Post("/", h.create)
		r.With(h.Operator).Put("/{id}", h.update)
		r.With(h.Operator).Delete("/{id}", h.delete)
	})
}

func (h *CatalogHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	snap, err := h.Cache.Snapshot(ctx)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": snap.Products()})
}

func (h *CatalogHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Store.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) create(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p := in.product("")
	if err := h.Store.Create(ctx, &p); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.invalidate(ctx, p.ID)
	h.Logger.Info("product created", "product_id", p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (h *CatalogHandler) update(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p := in.product(chi.URLParam(r, "id"))
	if err := h.Store.Update(ctx, &p, in.Version); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.invalidate(ctx, p.ID)
	h.Logger.Info("product updated", "product_id", p.ID, "version", p.Version)
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.Store.Delete(ctx, id); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.invalidate(ctx, id)
	h.Logger.Info("product deleted", "product_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) invalidate(ctx context.Context, productID string) {
	if err := h.Cache.Invalidate(ctx); err != nil {
		h.Logger.Warn("catalog cache invalidate failed", "product_id", productID, "err", err)
	}
}
