package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
)

type VariantRequest struct {
	SKU        string            `json:"sku" validate:"required"`
	Name       string            `json:"name" validate:"required"`
	Price      float64           `json:"price" validate:"gte=0"`
	SalePrice  *float64          `json:"sale_price,omitempty" validate:"omitempty,gte=0"`
	Stock      int               `json:"stock" validate:"gte=0"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type ImageRequest struct {
	URL       string `json:"url" validate:"required,url"`
	Alt       string `json:"alt,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

type ProductRequest struct {
	Name        string           `json:"name" validate:"required,min=1,max=200"`
	Description string           `json:"description"`
	CategoryID  string           `json:"category_id" validate:"required"`
	Brand       string           `json:"brand,omitempty"`
	Status      string           `json:"status,omitempty" validate:"omitempty,oneof=draft published out_of_stock discontinued"`
	Tags        []string         `json:"tags,omitempty"`
	Images      []ImageRequest   `json:"images,omitempty" validate:"dive"`
	Variants    []VariantRequest `json:"variants" validate:"required,min=1,dive"`
}

func (p ProductRequest) toProduct(id string) *catalog.Product {
	product := &catalog.Product{
		ID:          id,
		Name:        p.Name,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		Brand:       p.Brand,
		Status:      catalog.Status(p.Status),
		Tags:        p.Tags,
	}
	for _, img := range p.Images {
		product.Images = append(product.Images, catalog.Image{URL: img.URL, Alt: img.Alt, IsPrimary: img.IsPrimary})
	}
	for _, v := range p.Variants {
		product.Variants = append(product.Variants, catalog.Variant{
			SKU:        v.SKU,
			Name:       v.Name,
			Price:      v.Price,
			SalePrice:  v.SalePrice,
			Stock:      v.Stock,
			Attributes: v.Attributes,
		})
	}
	return product
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type StockRequest struct {
	Stock int `json:"stock" validate:"gte=0"`
}

type ProductListResponse struct {
	Items  []catalog.Product `json:"items"`
	Total  int64             `json:"total"`
	Limit  int64             `json:"limit"`
	Offset int64             `json:"offset"`
}

type ProductHandler struct {
	service  catalog.Service
	validate *validator.Validate
}

func NewProductHandler(service catalog.Service) *ProductHandler {
	return &ProductHandler{service: service, validate: newValidator()}
}

// RegisterRoutes mounts the public catalog. Staff identities, when present,
// also see unpublished products.
func (h *ProductHandler) RegisterRoutes(router chi.Router) {
	router.Get("/products", h.handleListProducts)
	router.Get("/products/{id}", h.handleGetProduct)
}

// RegisterAdminRoutes mounts catalog management. It requires admin or staff.
func (h *ProductHandler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/products", h.handleCreateProduct)
	router.Put("/products/{id}", h.handleUpdateProduct)
	router.Patch("/products/{id}/status", h.handleSetStatus)
	router.Patch("/products/{id}/variants/{sku}/stock", h.handleUpdateStock)
}

func (h *ProductHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := catalog.ListFilter{Limit: limit, Offset: offset}

	if isStaff(r) {
		if s := r.URL.Query().Get("status"); s != "" {
			status := catalog.Status(s)
			if !status.Valid() {
				respondWithError(w, http.StatusBadRequest, "Invalid status filter")
				return
			}
			filter.Status = &status
		}
	} else {
		published := catalog.StatusPublished
		filter.Status = &published
	}

	products, total, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list products")
		return
	}
	respondWithJSON(w, http.StatusOK, ProductListResponse{Items: products, Total: total, Limit: limit, Offset: offset})
}

func (h *ProductHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, err, "Failed to get product")
		return
	}
	if product.Status != catalog.StatusPublished && !isStaff(r) {
		respondWithError(w, http.StatusNotFound, catalog.ErrProductNotFound.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.service.CreateProduct(r.Context(), req.toProduct(""))
	if err != nil {
		respondWithServiceError(w, err, "Failed to create product")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *ProductHandler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	if req.Status == "" {
		req.Status = string(catalog.StatusDraft)
	}

	updated, err := h.service.UpdateProduct(r.Context(), req.toProduct(chi.URLParam(r, "id")))
	if err != nil {
		respondWithServiceError(w, err, "Failed to update product")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *ProductHandler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.SetStatus(r.Context(), id, catalog.Status(req.Status)); err != nil {
		respondWithServiceError(w, err, "Failed to set product status")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandler) handleUpdateStock(w http.ResponseWriter, r *http.Request) {
	var req StockRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	id, sku := chi.URLParam(r, "id"), chi.URLParam(r, "sku")
	if err := h.service.UpdateStock(r.Context(), id, sku, req.Stock); err != nil {
		respondWithServiceError(w, err, "Failed to update stock")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
