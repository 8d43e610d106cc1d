package search

import (
	"context"
	"log"

	"tadbir/api/internal/perm"
	"tadbir/api/internal/store"
)

// Store is the database side of search: the ILIKE fallback plus id lookup
// for hydrating Meilisearch hits into full records.
type Store interface {
	SearchResolutions(ctx context.Context, sectionType perm.Section, query string) ([]store.Resolution, error)
	GetResolutionsByIDs(ctx context.Context, ids []string) ([]store.Resolution, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// database. meili may be nil when Meilisearch is not configured.
type Service struct {
	meili *Meili
	store Store
}

func NewService(meili *Meili, st Store) *Service {
	return &Service{meili: meili, store: st}
}

// Search returns matching resolutions for a section-scoped substring query.
func (s *Service) Search(ctx context.Context, q Query) ([]store.Resolution, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.Search(q)
		if err == nil {
			return s.store.GetResolutionsByIDs(ctx, ids)
		}
		log.Printf("search: meilisearch error, falling back to database: %v", err)
	}
	return s.store.SearchResolutions(ctx, q.Section, q.Text)
}

// IndexResolution indexes a resolution (fire-and-forget).
func (s *Service) IndexResolution(rec Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexResolution(rec); err != nil {
			log.Printf("search: index resolution %s: %v", rec.ID, err)
		}
	}()
}

// DeleteResolution removes a resolution from the index (fire-and-forget).
func (s *Service) DeleteResolution(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteResolution(id); err != nil {
			log.Printf("search: delete resolution %s: %v", id, err)
		}
	}()
}
