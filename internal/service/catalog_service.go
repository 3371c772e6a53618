package service

import (
	"context"
	"sync"
	"time"

	"grocery-pos-terminal/internal/model"

	"github.com/rs/zerolog/log"
)

// CatalogService is the read-only product cache, indexed by barcode.
type CatalogService interface {
	Refresh(ctx context.Context) error
	Lookup(barcode string) (model.Product, bool)
	Products() []model.Product
	LastRefresh() time.Time
}

type catalogService struct {
	source ProductSource

	mu        sync.RWMutex
	products  []model.Product
	byBarcode map[string]int
	refreshed time.Time
}

func NewCatalogService(source ProductSource) CatalogService {
	return &catalogService{source: source, byBarcode: map[string]int{}}
}

// Refresh replaces the whole snapshot. On error the previous snapshot is kept.
func (s *catalogService) Refresh(ctx context.Context) error {
	products, err := s.source.ListProducts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("catalog refresh failed, keeping previous snapshot")
		return err
	}

	index := make(map[string]int, len(products))
	for i, p := range products {
		if p.Barcode == "" {
			continue
		}
		index[p.Barcode] = i
	}

	s.mu.Lock()
	s.products = products
	s.byBarcode = index
	s.refreshed = time.Now()
	s.mu.Unlock()

	log.Debug().Int("products", len(products)).Msg("catalog refreshed")
	return nil
}

func (s *catalogService) Lookup(barcode string) (model.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byBarcode[barcode]
	if !ok {
		return model.Product{}, false
	}
	return s.products[i], true
}

func (s *catalogService) Products() []model.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Product, len(s.products))
	copy(out, s.products)
	return out
}

func (s *catalogService) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}
