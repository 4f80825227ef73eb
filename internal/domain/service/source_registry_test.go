package service

import (
	"strings"
	"testing"

	"github.com/dreschagin/desertyard/internal/domain/entity"
)

func mustSource(t *testing.T, id, url string) entity.Source {
	t.Helper()
	source, err := entity.NewSource(id, url)
	if err != nil {
		t.Fatalf("NewSource(%s) error = %v", id, err)
	}
	return source
}

func TestSourceRegistry_SortedIteration(t *testing.T) {
	registry, err := NewSourceRegistry(
		mustSource(t, "tv727", "https://cams.example.com/727.jpg"),
		mustSource(t, "tv721", "https://cams.example.com/721.jpg"),
		mustSource(t, "tv722", "https://cams.example.com/722.jpg"),
	)
	if err != nil {
		t.Fatalf("NewSourceRegistry() error = %v", err)
	}

	if got := strings.Join(registry.IDs(), ","); got != "tv721,tv722,tv727" {
		t.Fatalf("unexpected order: %s", got)
	}

	source, ok := registry.Lookup("tv722")
	if !ok || source.URL() != "https://cams.example.com/722.jpg" {
		t.Fatalf("unexpected lookup result: %+v %v", source, ok)
	}

	all := registry.All()
	all[0] = mustSource(t, "zzz", "https://cams.example.com/z.jpg")
	if registry.IDs()[0] != "tv721" {
		t.Fatalf("registry must not be mutable through All()")
	}
}

func TestSourceRegistry_Validation(t *testing.T) {
	if _, err := NewSourceRegistry(); err == nil {
		t.Fatalf("expected error for empty registry")
	}

	_, err := NewSourceRegistry(
		mustSource(t, "tv721", "https://cams.example.com/a.jpg"),
		mustSource(t, "tv721", "https://cams.example.com/b.jpg"),
	)
	if err == nil || !strings.Contains(err.Error(), "duplicate source id") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestNewSource_Validation(t *testing.T) {
	tests := []struct {
		name string
		id   string
		url  string
	}{
		{name: "empty id", id: "", url: "https://cams.example.com/a.jpg"},
		{name: "slash in id", id: "tv/721", url: "https://cams.example.com/a.jpg"},
		{name: "relative url", id: "tv721", url: "/a.jpg"},
		{name: "ftp url", id: "tv721", url: "ftp://cams.example.com/a.jpg"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := entity.NewSource(tc.id, tc.url); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
