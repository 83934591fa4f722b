package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koscakluka/ema-widget/core/messages"
	"github.com/koscakluka/ema-widget/core/transport"
)

func TestLoadMapsRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/" {
			t.Errorf("expected /history/, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("history_type"); got != "query" {
			t.Errorf("expected history_type=query, got %q", got)
		}
		if got := r.Header.Get("X-Service-Key"); got != "sk" {
			t.Errorf("expected service key header, got %q", got)
		}
		w.Write([]byte(`{"results":[
			{"sender":"user","message":"hisobot kerak"},
			{"sender":"bot","message":"<table><tr><td>1</td></tr></table>"},
			{"sender":"bot","message":"tayyor"}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, WithCredentials(transport.Credentials{ServiceKey: "sk"}))
	got, err := client.Load(context.Background(), "user")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expected := []struct {
		role messages.Role
		kind messages.Kind
	}{
		{role: messages.RoleUser, kind: messages.KindText},
		{role: messages.RoleAssistant, kind: messages.KindMedia},
		{role: messages.RoleAssistant, kind: messages.KindText},
	}
	if len(got) != len(expected) {
		t.Fatalf("expected %d messages, got %d", len(expected), len(got))
	}
	for i, message := range got {
		if message.Role != expected[i].role || message.Kind != expected[i].kind {
			t.Fatalf("expected message %d to be %s/%s, got %s/%s", i, expected[i].role, expected[i].kind, message.Role, message.Kind)
		}
		if message.ID == "" {
			t.Fatalf("expected message %d to have an id", i)
		}
	}
	if got[0].Content != "hisobot kerak" {
		t.Fatalf("expected content to be kept, got %q", got[0].Content)
	}
}

func TestLoadAdminHistoryType(t *testing.T) {
	var historyType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		historyType = r.URL.Query().Get("history_type")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	if _, err := New(server.URL).Load(context.Background(), "admin"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if historyType != "sql" {
		t.Fatalf("expected admin history type sql, got %q", historyType)
	}
}

func TestLoadWithoutResultsArrayIsEmpty(t *testing.T) {
	for _, body := range []string{`{}`, `{"results":null}`, `{"results":"none"}`, `{"detail":"x"}`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		got, err := New(server.URL).Load(context.Background(), "user")
		server.Close()
		if err != nil {
			t.Fatalf("expected no error for %s, got %v", body, err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty history for %s, got %v", body, got)
		}
	}
}

func TestLoadReportsStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := New(server.URL).Load(context.Background(), "user")
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected a 401 status error, got %v", err)
	}
}
