package statuswatch

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rsba1/internal/logging"
	"rsba1/internal/session"
)

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestServerPublishesStateChangeToSubscriber(t *testing.T) {
	log, _ := logging.New("test", logging.Debug, "")
	addr := freeLoopbackAddr(t)
	s := New(addr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	defer s.Close()

	waitForListener(t, addr)

	wsURL := "ws://" + addr + "/status"
	var conn *websocket.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the subscriber before publishing.
	time.Sleep(50 * time.Millisecond)
	s.Publish(session.Event{Kind: session.EventStateChanged, State: session.StateEstablished, DeviceName: "IC-9700"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if got := string(data); !contains(got, "ESTABLISHED") || !contains(got, "IC-9700") {
		t.Fatalf("unexpected payload: %s", got)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	for i := 0; i < 40; i++ {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", addr)
}
