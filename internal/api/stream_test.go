package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/audit/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, code)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.hub.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", s.hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuditStream_PushesCommittedEntries(t *testing.T) {
	e := testEngine(t)
	s := NewServer(e, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, nil)
	waitForSubscribers(t, s, 1)

	resp, err := http.Post(srv.URL+"/api/v1/cycles", "application/json",
		strings.NewReader("["+alertJSON("1.1.1.1", "high")+","+alertJSON("2.2.2.2", "medium")+"]"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []core.AuditEntry
	for len(got) < 2 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var entry core.AuditEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			t.Fatal(err)
		}
		got = append(got, entry)
	}
	if got[0].Rule.SourceID != "1.1.1.1" || got[1].Rule.Action != core.ActionRateLimit {
		t.Errorf("streamed entries = %+v", got)
	}
	for _, entry := range got {
		if entry.Kind != core.ChangeAdded {
			t.Errorf("kind = %q", entry.Kind)
		}
	}
}

func TestAuditStream_RequiresAuth(t *testing.T) {
	s := NewServer(testEngineWithAuth(t, "k1"), Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/audit/stream"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without key should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v", resp)
	}

	dialStream(t, srv, http.Header{"Authorization": []string{"Bearer k1"}})
	waitForSubscribers(t, s, 1)
}

func TestAuditHub_CloseDisconnects(t *testing.T) {
	s := NewServer(testEngine(t), Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, nil)
	waitForSubscribers(t, s, 1)
	s.hub.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after close = %v, want normal closure", err)
	}
	if s.hub.Len() != 0 {
		t.Errorf("subscribers = %d after close", s.hub.Len())
	}
}
