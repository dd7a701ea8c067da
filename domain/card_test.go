package domain

import (
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestCardMarshalFlattensExtraFields(t *testing.T) {
	card := Card{
		ID:     "42",
		Status: "todo",
		Title:  "Checkout flow",
		Extra:  map[string]string{"reviewer": "carl"},
	}

	payload, err := sonic.Marshal(card)
	if err != nil {
		t.Fatalf("marshal card: %v", err)
	}
	if !strings.Contains(string(payload), "\"reviewer\":\"carl\"") {
		t.Fatalf("expected dynamic field at top level, got %s", payload)
	}
	if strings.Contains(string(payload), "Extra") {
		t.Fatalf("extra map must not appear nested, got %s", payload)
	}
}

func TestCardUnmarshalLiftsFixedFields(t *testing.T) {
	raw := `{"id":"42","status":"review","sprint":"s2","product":"shop","title":"Checkout","story":"as a user","acceptance":"pays ok","reviewer":"carl"}`

	var card Card
	if err := sonic.UnmarshalString(raw, &card); err != nil {
		t.Fatalf("unmarshal card: %v", err)
	}
	if card.ID != "42" || card.Status != "review" || card.Sprint != "s2" {
		t.Fatalf("fixed fields not lifted: %+v", card)
	}
	if card.Extra["reviewer"] != "carl" {
		t.Fatalf("dynamic field not collected: %+v", card.Extra)
	}
	if _, ok := card.Extra["id"]; ok {
		t.Fatalf("fixed field leaked into extras: %+v", card.Extra)
	}
}

func TestCardFieldAccessors(t *testing.T) {
	var card Card
	card.SetField("status", "todo")
	card.SetField("points", "5")

	if v, ok := card.Field("status"); !ok || v != "todo" {
		t.Fatalf("fixed field lookup failed: %q %v", v, ok)
	}
	if v, ok := card.Field("points"); !ok || v != "5" {
		t.Fatalf("dynamic field lookup failed: %q %v", v, ok)
	}
	if _, ok := card.Field("missing"); ok {
		t.Fatalf("unexpected hit for missing field")
	}
}

func TestCardCloneIsIndependent(t *testing.T) {
	card := Card{ID: "1", Extra: map[string]string{"a": "1"}}
	cp := card.Clone()
	cp.Extra["a"] = "2"

	if card.Extra["a"] != "1" {
		t.Fatalf("clone shares extra map with original")
	}
}

func TestParseMarker(t *testing.T) {
	m, err := ParseMarker("171")
	if err != nil {
		t.Fatalf("parse marker: %v", err)
	}
	if m.String() != "171" {
		t.Fatalf("round trip mismatch: %s", m)
	}
	if !m.After(MarkerZero) || m.IsZero() {
		t.Fatalf("ordering broken for %v", m)
	}
	if _, err := ParseMarker("not-a-marker"); err == nil {
		t.Fatalf("expected parse failure")
	}
	if _, err := ParseMarker("-4"); err == nil {
		t.Fatalf("expected negative markers to be rejected")
	}
}
