package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func protocolServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/xhr/settings", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"constraints":{"Statuses":{"todo":{},"done":{"limit_drag_to":["review"]}}},"default_product":"shop","refresh_time":5000,"products":["shop"]}`))
	})
	mux.HandleFunc("/xhr/list", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("product") != "shop" {
			http.Error(w, "wrong product", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"authed_user":"carl","authed":1,"data":{"42":{"id":"42","status":"todo","reviewer":"ann"}},"loaded":"171","sprints":["s1"]}`))
	})
	mux.HandleFunc("/xhr/lastchange", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("200"))
	})
	mux.HandleFunc("/xhr/login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != "carl" || r.FormValue("password") != "secret" {
			w.Write([]byte(`{"error":true,"message":"bad credentials"}`))
			return
		}
		w.Write([]byte(`{"token":"tok-123"}`))
	})
	mux.HandleFunc("/xhr/move", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.Write([]byte("0"))
			return
		}
		if r.FormValue("id") == "42" && r.FormValue("status") == "review" {
			w.Write([]byte("171"))
			return
		}
		w.Write([]byte("0"))
	})
	mux.HandleFunc("/xhr/updateCard", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"timestamp":"180","id":"` + r.FormValue("id") + `","data":{"title":"` + r.FormValue("title") + `"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSettingsAndList(t *testing.T) {
	srv := protocolServer(t)
	c := NewClient(srv.URL, nil, nil)
	ctx := context.Background()

	settings, err := c.Settings(ctx)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.DefaultProduct != "shop" || !settings.Constraints.Statuses.HasStatus("done") {
		t.Fatalf("settings not decoded: %+v", settings)
	}

	list, err := c.List(ctx, "shop", "all")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Loaded != 171 || list.Authed != 1 {
		t.Fatalf("list envelope not decoded: %+v", list)
	}
	card, ok := list.Data["42"]
	if !ok || card.Status != "todo" || card.Extra["reviewer"] != "ann" {
		t.Fatalf("card not decoded with dynamic fields: %+v", card)
	}
}

func TestClientLastChange(t *testing.T) {
	srv := protocolServer(t)
	c := NewClient(srv.URL, nil, nil)

	m, err := c.LastChange(context.Background())
	if err != nil {
		t.Fatalf("lastchange: %v", err)
	}
	if m != 200 {
		t.Fatalf("unexpected marker: %v", m)
	}
}

func TestClientLoginStoresTokenForMoves(t *testing.T) {
	srv := protocolServer(t)
	c := NewClient(srv.URL, nil, nil)
	ctx := context.Background()

	// Unauthenticated moves hit the failure sentinel.
	if _, ok, err := c.Move(ctx, "42", "review"); err != nil || ok {
		t.Fatalf("expected sentinel before login, got ok=%v err=%v", ok, err)
	}

	if err := c.Login(ctx, "carl", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.Token() != "tok-123" {
		t.Fatalf("token not stored: %q", c.Token())
	}

	marker, ok, err := c.Move(ctx, "42", "review")
	if err != nil || !ok {
		t.Fatalf("move after login failed: ok=%v err=%v", ok, err)
	}
	if marker != 171 {
		t.Fatalf("unexpected marker: %v", marker)
	}
}

func TestClientLoginCriticalErrorPayload(t *testing.T) {
	srv := protocolServer(t)
	c := NewClient(srv.URL, nil, nil)

	err := c.Login(context.Background(), "carl", "wrong")
	var srvErr *ServerError
	if !errors.As(err, &srvErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if srvErr.Message != "bad credentials" {
		t.Fatalf("unexpected message: %q", srvErr.Message)
	}
	if c.Token() != "" {
		t.Fatalf("failed login must not store a token")
	}
}

func TestClientUpdateCard(t *testing.T) {
	srv := protocolServer(t)
	c := NewClient(srv.URL, nil, nil)

	patch, err := c.UpdateCard(context.Background(), "42", map[string]string{"title": "New title"})
	if err != nil {
		t.Fatalf("updateCard: %v", err)
	}
	if patch.ID != "42" || patch.Timestamp != 180 || patch.Data["title"] != "New title" {
		t.Fatalf("patch not decoded: %+v", patch)
	}
}
