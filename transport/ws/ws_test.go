package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/localrivet/gotdl/transport"
)

// newGateway starts a gateway that echoes every frame back. When issuer is
// set, handshakes without a valid bearer token are rejected.
func newGateway(t *testing.T, issuer *TokenIssuer) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if issuer != nil {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if _, err := issuer.Verify(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()

		// Greet the client the way a gateway announces the backend version.
		if err := wsutil.WriteServerMessage(conn, ws.OpText, []byte(`{"@type":"updateOption","name":"version"}`)); err != nil {
			return
		}
		for {
			msg, op, err := wsutil.ReadClientData(conn)
			if err != nil {
				return
			}
			if err := wsutil.WriteServerMessage(conn, op, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestNewBackendRejectsHTTPURL(t *testing.T) {
	if _, err := NewBackend("http://localhost:8080"); err == nil {
		t.Error("Expected an error for a non-WebSocket url")
	}
}

func TestRoundTrip(t *testing.T) {
	_, url := newGateway(t, nil)
	b, err := NewBackend(url)
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	if b.Name() != BackendName {
		t.Errorf("Expected name %q, got %q", BackendName, b.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := b.Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Close()

	greeting, err := session.Receive(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to receive greeting: %v", err)
	}
	if !strings.Contains(string(greeting), "updateOption") {
		t.Errorf("Expected greeting update, got %s", greeting)
	}

	req := []byte(`{"@type":"getMe","@extra":"42"}`)
	if err := session.Send(ctx, req); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	resp, err := session.Receive(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(resp) != string(req) {
		t.Errorf("Expected %s, got %s", req, resp)
	}

	if err := session.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := session.Send(ctx, req); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	issuer, err := NewTokenIssuer("gateway-secret", "tdlctl", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer failed: %v", err)
	}
	_, url := newGateway(t, issuer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	unauthenticated, _ := NewBackend(url, WithDialRetries(0, 0, 0))
	if _, err := unauthenticated.Open(ctx); err == nil {
		t.Fatal("Expected handshake without token to fail")
	}

	b, _ := NewBackend(url, WithBearerToken(issuer))
	session, err := b.Open(ctx)
	if err != nil {
		t.Fatalf("Open with token failed: %v", err)
	}
	session.Close()
}

func TestTokenIssuer(t *testing.T) {
	if _, err := NewTokenIssuer("", "x", time.Minute); err == nil {
		t.Error("Expected an error for an empty secret")
	}

	issuer, _ := NewTokenIssuer("secret", "bot", time.Minute)
	issuer.WithClientID("client-7")
	token, expiresAt, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("Expected expiry in the future")
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "bot" || claims.ClientID != "client-7" {
		t.Errorf("Unexpected claims: %+v", claims)
	}

	other, _ := NewTokenIssuer("other-secret", "bot", time.Minute)
	if _, err := other.Verify(token); err == nil {
		t.Error("Expected verification with a different secret to fail")
	}
}

func TestReceiveTimeout(t *testing.T) {
	_, url := newGateway(t, nil)
	b, _ := NewBackend(url)
	ctx := context.Background()
	session, err := b.Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Close()

	// Drain the greeting, then nothing else arrives.
	if _, err := session.Receive(ctx, 2*time.Second); err != nil {
		t.Fatalf("Failed to receive greeting: %v", err)
	}
	msg, err := session.Receive(ctx, 20*time.Millisecond)
	if msg != nil || err != nil {
		t.Errorf("Expected (nil, nil) on timeout, got (%s, %v)", msg, err)
	}
}

func TestExecuteUnsupported(t *testing.T) {
	b, _ := NewBackend("ws://localhost:1")
	if _, err := b.Execute([]byte(`{}`)); !errors.Is(err, transport.ErrExecuteUnsupported) {
		t.Errorf("Expected ErrExecuteUnsupported, got %v", err)
	}
}

func TestPingsDuringSends(t *testing.T) {
	const messages = 200
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()

		var writeMu sync.Mutex
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
				}
				writeMu.Lock()
				err := wsutil.WriteServerMessage(conn, ws.OpPing, []byte("keepalive"))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}()

		// A pong written in the middle of a data frame breaks parsing here.
		for i := 0; i < messages; i++ {
			msg, _, err := wsutil.ReadClientData(conn)
			if err != nil || !strings.HasPrefix(string(msg), `{"@type":"testCall"`) {
				return
			}
		}
		writeMu.Lock()
		_ = wsutil.WriteServerMessage(conn, ws.OpText, []byte(`{"@type":"ok"}`))
		writeMu.Unlock()
	}))
	t.Cleanup(server.Close)

	b, _ := NewBackend("ws" + strings.TrimPrefix(server.URL, "http"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := b.Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Close()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < messages/4; i++ {
				req := fmt.Sprintf(`{"@type":"testCall","@extra":"%d-%d","padding":%q}`, g, i, strings.Repeat("x", 512))
				if err := session.Send(ctx, []byte(req)); err != nil {
					t.Errorf("Send failed: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	resp, err := session.Receive(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("Gateway dropped the connection: %v", err)
	}
	if string(resp) != `{"@type":"ok"}` {
		t.Errorf("Expected ok, got %s", resp)
	}
}
