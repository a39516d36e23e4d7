package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"github.com/vasiliy-maslov/storefront/internal/storage"
	"golang.org/x/sync/singleflight"
)

type Service interface {
	CreateProduct(ctx context.Context, product *Product) (*Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, int64, error)
	UpdateProduct(ctx context.Context, product *Product) (*Product, error)
	SetStatus(ctx context.Context, id string, status Status) error
	UpdateStock(ctx context.Context, id, sku string, stock int) error
	Quote(ctx context.Context, productID, sku string, quantity int) (Quote, error)
}

type service struct {
	repo    Repository
	cache   Cache
	sfg     singleflight.Group
	breaker *gobreaker.CircuitBreaker[*Product]
}

func NewService(repo Repository, cache Cache) Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &service{
		repo:  repo,
		cache: cache,
		breaker: gobreaker.NewCircuitBreaker[*Product](gobreaker.Settings{
			Name:        "catalog-quote",
			MaxRequests: 3,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !storage.IsTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("service: circuit breaker state changed")
			},
		}),
	}
}

func (s *service) CreateProduct(ctx context.Context, product *Product) (*Product, error) {
	if product.Status == "" {
		product.Status = StatusDraft
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate product id: %w", err)
	}
	now := time.Now().UTC()
	product.ID = id.String()
	product.CreatedAt = now
	product.UpdatedAt = now
	normalize(product)

	if err := s.repo.Create(ctx, product); err != nil {
		if errors.Is(err, ErrDuplicateSKU) {
			return nil, err
		}
		log.Error().Err(err).Msg("service: failed to create product in repository")
		return nil, fmt.Errorf("service: failed to create product: %w", err)
	}

	log.Info().Str("product_id", product.ID).Int("variants", len(product.Variants)).Msg("service: product created")
	return product, nil
}

// GetProduct reads through the cache. Concurrent misses for the same id are
// collapsed into one repository call.
func (s *service) GetProduct(ctx context.Context, id string) (*Product, error) {
	v, err, _ := s.sfg.Do(id, func() (interface{}, error) {
		cached, err := s.cache.Get(ctx, id)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Str("product_id", id).Msg("service: cache get failed")
		}

		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, p); err != nil {
			log.Warn().Err(err).Str("product_id", id).Msg("service: cache set failed")
		}
		return p, nil
	})
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Str("product_id", id).Msg("service: failed to get product")
		return nil, fmt.Errorf("service: failed to get product %s: %w", id, err)
	}

	// Callers may mutate the result; never hand out the shared value.
	return v.(*Product).Clone(), nil
}

func (s *service) ListProducts(ctx context.Context, filter ListFilter) ([]Product, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	products, total, err := s.repo.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list products")
		return nil, 0, fmt.Errorf("service: failed to list products: %w", err)
	}
	return products, total, nil
}

func (s *service) UpdateProduct(ctx context.Context, product *Product) (*Product, error) {
	if err := product.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByID(ctx, product.ID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to load product %s: %w", product.ID, err)
	}

	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	normalize(product)

	if err := s.repo.Replace(ctx, product); err != nil {
		if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrDuplicateSKU) {
			return nil, err
		}
		log.Error().Err(err).Str("product_id", product.ID).Msg("service: failed to update product")
		return nil, fmt.Errorf("service: failed to update product %s: %w", product.ID, err)
	}

	s.invalidate(ctx, product.ID)
	return product, nil
}

// SetStatus is an administrative override: any status may follow any other.
func (s *service) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidProduct, status)
	}
	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return err
		}
		return fmt.Errorf("service: failed to set product status: %w", err)
	}

	s.invalidate(ctx, id)
	log.Info().Str("product_id", id).Stringer("status", status).Msg("service: product status changed")
	return nil
}

func (s *service) UpdateStock(ctx context.Context, id, sku string, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock cannot be negative", ErrInvalidProduct)
	}
	if err := s.repo.SetVariantStock(ctx, id, sku, stock); err != nil {
		if errors.Is(err, ErrUnknownVariant) {
			return err
		}
		return fmt.Errorf("service: failed to update stock: %w", err)
	}

	s.invalidate(ctx, id)
	return nil
}

// Quote reads the product straight from the store (never from the cache) so
// order placement prices against current data.
func (s *service) Quote(ctx context.Context, productID, sku string, quantity int) (Quote, error) {
	if quantity <= 0 {
		return Quote{}, fmt.Errorf("%w: requested %d of %s", ErrInvalidQuantity, quantity, sku)
	}

	p, err := s.breaker.Execute(func() (*Product, error) {
		return s.repo.GetByID(ctx, productID)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrProductNotFound):
			return Quote{}, fmt.Errorf("%w: product %s", ErrUnknownVariant, productID)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return Quote{}, fmt.Errorf("service: catalog quote: %w: %w", storage.ErrUnavailable, err)
		}
		return Quote{}, fmt.Errorf("service: catalog quote: %w", err)
	}

	switch p.Status {
	case StatusDraft, StatusDiscontinued:
		return Quote{}, fmt.Errorf("%w: product %s is %s", ErrUnknownVariant, productID, p.Status)
	case StatusOutOfStock:
		return Quote{}, fmt.Errorf("%w: product %s is out of stock", ErrInsufficientStock, productID)
	}

	v, ok := p.Variant(sku)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s/%s", ErrUnknownVariant, productID, sku)
	}
	if quantity > v.Stock {
		return Quote{}, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, sku, v.Stock, quantity)
	}

	return Quote{
		ProductID:   p.ID,
		SKU:         v.SKU,
		ProductName: p.Name,
		VariantName: v.Name,
		UnitPrice:   v.EffectivePrice(),
		Stock:       v.Stock,
	}, nil
}

func (s *service) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, id); err != nil {
		log.Warn().Err(err).Str("product_id", id).Msg("service: cache invalidation failed")
	}
}

func normalize(p *Product) {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Images == nil {
		p.Images = []Image{}
	}
	if p.Variants == nil {
		p.Variants = []Variant{}
	}
	for i := range p.Variants {
		if p.Variants[i].Attributes == nil {
			p.Variants[i].Attributes = map[string]string{}
		}
	}
}
