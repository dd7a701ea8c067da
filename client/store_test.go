package client

import (
	"reflect"
	"testing"

	"storyboard/domain"
)

func snapshot() map[string]domain.Card {
	return map[string]domain.Card{
		"42": {ID: "42", Status: "todo", Product: "shop", Sprint: "s1", Title: "Checkout"},
		"43": {ID: "43", Status: "review", Product: "shop", Sprint: "s1", Title: "Search"},
	}
}

func TestReplaceAllSwapsSnapshotAndMarker(t *testing.T) {
	s := NewCardStore(nil)
	s.ReplaceAll(snapshot(), 100)

	if s.Len() != 2 {
		t.Fatalf("expected 2 cards, got %d", s.Len())
	}
	if s.Marker() != 100 {
		t.Fatalf("expected marker 100, got %v", s.Marker())
	}

	s.ReplaceAll(map[string]domain.Card{"44": {ID: "44", Status: "todo"}}, 120)
	if _, ok := s.Get("42"); ok {
		t.Fatalf("cards absent from the new snapshot must be dropped")
	}
	if _, ok := s.Get("44"); !ok {
		t.Fatalf("new card missing after replace")
	}
}

func TestReplaceAllIsIdempotent(t *testing.T) {
	s := NewCardStore(nil)
	s.ReplaceAll(snapshot(), 100)
	first := s.All()
	firstMarker := s.Marker()

	s.ReplaceAll(snapshot(), 100)
	if !reflect.DeepEqual(s.All(), first) || s.Marker() != firstMarker {
		t.Fatalf("double replace changed observable state")
	}
}

func TestApplyPatchMergesFields(t *testing.T) {
	s := NewCardStore(nil)
	s.ReplaceAll(snapshot(), 100)

	s.ApplyPatch("42", map[string]string{"title": "Checkout v2", "reviewer": "carl"})

	c, _ := s.Get("42")
	if c.Title != "Checkout v2" {
		t.Fatalf("fixed field not patched: %+v", c)
	}
	if c.Extra["reviewer"] != "carl" {
		t.Fatalf("dynamic field not patched: %+v", c.Extra)
	}
	if c.Status != "todo" {
		t.Fatalf("untouched field changed: %+v", c)
	}
}

func TestApplyPatchUnknownCardIsNoop(t *testing.T) {
	s := NewCardStore(nil)
	s.ReplaceAll(snapshot(), 100)

	s.ApplyPatch("999", map[string]string{"title": "ghost"})
	s.SetStatus("999", "done")

	if s.Len() != 2 {
		t.Fatalf("unknown-card patch must not create cards")
	}
}

func TestSetStatus(t *testing.T) {
	s := NewCardStore(nil)
	s.ReplaceAll(snapshot(), 100)

	s.SetStatus("42", "review")
	if c, _ := s.Get("42"); c.Status != "review" {
		t.Fatalf("status not updated: %+v", c)
	}
}

func TestAdvanceMarkerNeverRewinds(t *testing.T) {
	s := NewCardStore(nil)
	s.ReplaceAll(snapshot(), 100)

	s.AdvanceMarker(90)
	if s.Marker() != 100 {
		t.Fatalf("marker rewound to %v", s.Marker())
	}
	s.AdvanceMarker(171)
	if s.Marker() != 171 {
		t.Fatalf("marker did not advance, got %v", s.Marker())
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewCardStore(nil)
	s.ReplaceAll(map[string]domain.Card{"1": {ID: "1", Status: "todo", Extra: map[string]string{"a": "1"}}}, 1)

	c, _ := s.Get("1")
	c.Extra["a"] = "2"
	c.Status = "done"

	held, _ := s.Get("1")
	if held.Extra["a"] != "1" || held.Status != "todo" {
		t.Fatalf("mutating a returned card leaked into the store: %+v", held)
	}
}

func TestStatusSnapshot(t *testing.T) {
	s := NewCardStore(nil)
	s.ReplaceAll(snapshot(), 100)

	snap := s.StatusSnapshot()
	want := map[string]string{"42": "todo", "43": "review"}
	if !reflect.DeepEqual(snap, want) {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}
