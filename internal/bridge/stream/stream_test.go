package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		kind   FrameKind
		status int
		body   string
	}{
		{"blank", "", FrameEmpty, 0, ""},
		{"empty object", "{}", FrameEmpty, 0, ""},
		{"null", "null", FrameEmpty, 0, ""},
		{"status", `{"_httpStatus":202}`, FrameStatus, 202, ""},
		{"status string", `{"_httpStatus":"200"}`, FrameStatus, 200, ""},
		{"error", `{"_error":{"code":401}}`, FrameError, 0, `{"code":401}`},
		{"data", `{"_data":{"metrics":{}}}`, FrameData, 0, `{"metrics":{}}`},
		{"other", `{"hello":1}`, FrameOther, 0, `{"hello":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Classify([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if f.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", f.Kind, tt.kind)
			}
			if f.Status != tt.status {
				t.Errorf("Status = %d, want %d", f.Status, tt.status)
			}
			if tt.body != "" && f.Body.String() != tt.body {
				t.Errorf("Body = %s, want %s", f.Body, tt.body)
			}
		})
	}

	if _, err := Classify([]byte("{broken")); err == nil {
		t.Error("Classify accepted broken JSON")
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConn(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotToken := make(chan string, 1)
	gotAuth := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(`{}`))
		ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
		ws.WriteMessage(websocket.TextMessage, []byte(`{"_data":{"metrics":{"odometer":{"value":5}}}}`))

		var msg map[string]string
		if err := ws.ReadJSON(&msg); err == nil {
			gotToken <- msg["accessToken"]
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"_httpStatus":202}`))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), transport.StreamHeaders("APP", "relay-1"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if got := <-gotAuth; got != "Bearer relay-1" {
		t.Errorf("handshake Authorization = %q", got)
	}

	want := []FrameKind{FrameEmpty, FrameData}
	for _, kind := range want {
		f, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if f.Kind != kind {
			t.Fatalf("Kind = %v, want %v", f.Kind, kind)
		}
	}

	if err := c.SendAccessToken("relay-2"); err != nil {
		t.Fatalf("SendAccessToken: %v", err)
	}
	if got := <-gotToken; got != "relay-2" {
		t.Errorf("server got token %q", got)
	}

	f, err := c.Next()
	if err != nil || f.Kind != FrameStatus || f.Status != 202 {
		t.Fatalf("Next = %+v, %v; want status 202", f, err)
	}
	if _, err := c.Next(); !errors.Is(err, ErrClosed) {
		t.Errorf("Next after close = %v, want ErrClosed", err)
	}
}

func TestDialUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), wsURL(srv), http.Header{})
	if !errors.Is(err, transport.ErrUnauthorized) {
		t.Errorf("Dial() = %v, want ErrUnauthorized", err)
	}
}
