package search

import (
	"context"
	"testing"

	"tadbir/api/internal/perm"
	"tadbir/api/internal/store"
)

type fakeStore struct {
	searchFn func(context.Context, perm.Section, string) ([]store.Resolution, error)
	byIDsFn  func(context.Context, []string) ([]store.Resolution, error)
}

func (f *fakeStore) SearchResolutions(ctx context.Context, sectionType perm.Section, query string) ([]store.Resolution, error) {
	return f.searchFn(ctx, sectionType, query)
}

func (f *fakeStore) GetResolutionsByIDs(ctx context.Context, ids []string) ([]store.Resolution, error) {
	return f.byIDsFn(ctx, ids)
}

func TestSearchFallsBackToDatabaseWithoutMeili(t *testing.T) {
	var gotSection perm.Section
	var gotQuery string
	fs := &fakeStore{
		searchFn: func(_ context.Context, sectionType perm.Section, query string) ([]store.Resolution, error) {
			gotSection = sectionType
			gotQuery = query
			return []store.Resolution{{ID: "res_1", Title: "بررسی وضعیت کلاس پنجم"}}, nil
		},
	}
	svc := NewService(nil, fs)

	results, err := svc.Search(context.Background(), Query{Section: perm.SectionCouncil, Text: "وضعیت"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "res_1" {
		t.Fatalf("results = %+v", results)
	}
	if gotSection != perm.SectionCouncil || gotQuery != "وضعیت" {
		t.Fatalf("fallback called with (%q, %q)", gotSection, gotQuery)
	}
}

func TestIndexIsNoopWithoutMeili(t *testing.T) {
	svc := NewService(nil, &fakeStore{})
	// Must not panic or spawn work.
	svc.IndexResolution(Record{ID: "res_1"})
	svc.DeleteResolution("res_1")
}
