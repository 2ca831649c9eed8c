package syncapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSyncRequestShape(t *testing.T) {
	var gotPath, gotSince, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSince = r.URL.Query().Get("since")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"messages":[{"messageId":"m1","conversationId":"a:b","senderId":"a","content":"hi","messageType":"TEXT","timestamp":1000}],"statusUpdates":[{"messageId":"m0","conversationId":"a:b","status":"READ","timestamp":900}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123")
	result, err := c.Sync(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/sync" {
		t.Errorf("path = %q, want /sync", gotPath)
	}
	if gotSince != "1970-01-01T00:00:00Z" {
		t.Errorf("since = %q, want epoch zero ISO", gotSince)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth = %q, want bearer token", gotAuth)
	}
	if len(result.Messages) != 1 || result.Messages[0].MsgID != "m1" {
		t.Errorf("messages = %+v", result.Messages)
	}
	if len(result.StatusUpdates) != 1 || result.StatusUpdates[0].Status != "READ" {
		t.Errorf("statusUpdates = %+v", result.StatusUpdates)
	}
}

func TestSyncNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	if _, err := c.Sync(context.Background(), time.Now()); err == nil {
		t.Error("expected error on 502")
	}
}

func TestHistoryPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/a:b" {
			t.Errorf("path = %q, want /history/a:b", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("size") != "25" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"messages":[],"page":2,"hasMore":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	page, err := c.History(context.Background(), "a:b", 2, 25)
	if err != nil {
		t.Fatal(err)
	}
	if page.Page != 2 || page.HasMore {
		t.Errorf("page = %+v", page)
	}
}

func TestSignMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/media/sign" {
			t.Errorf("%s %s, want POST /media/sign", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"uploadUrl":"https://uploads/x","mediaUrl":"https://cdn/x","fields":{"key":"x"},"expiresAt":99}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	grant, err := c.SignMedia(context.Background(), "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if grant.UploadURL != "https://uploads/x" || grant.Fields["key"] != "x" {
		t.Errorf("grant = %+v", grant)
	}
}
