package service

import (
	"encoding/json"
	"testing"
)

func TestSnapshotIndex_MarshalJSON(t *testing.T) {
	index := NewSnapshotIndex()
	index.Set("tv722", []string{"tv722/b.jpg"})
	index.Set("tv721", []string{"tv721/a.jpg", "tv721/c.jpg"})
	index.Set("tv726", nil)

	body, err := json.Marshal(index)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"tv721":["tv721/a.jpg","tv721/c.jpg"],"tv722":["tv722/b.jpg"],"tv726":[]}`
	if string(body) != want {
		t.Fatalf("unexpected json:\n got %s\nwant %s", body, want)
	}
	if index.TotalKeys() != 3 {
		t.Fatalf("expected 3 keys, got %d", index.TotalKeys())
	}
}

func TestSnapshotIndex_EmptyIsValidJSON(t *testing.T) {
	body, err := NewSnapshotIndex().MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(body) != "{}" {
		t.Fatalf("unexpected json: %s", body)
	}
}

func TestSnapshotIndex_SetCopiesInput(t *testing.T) {
	keys := []string{"tv721/a.jpg"}
	index := NewSnapshotIndex()
	index.Set("tv721", keys)
	keys[0] = "mutated"

	if got := index.Keys("tv721")[0]; got != "tv721/a.jpg" {
		t.Fatalf("index must copy keys, got %s", got)
	}
}
