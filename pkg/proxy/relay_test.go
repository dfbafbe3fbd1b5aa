package proxy

import (
	"io"
	"net"
	"testing"
	"time"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	a, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	b := <-accepted
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestRelay(t *testing.T) {
	tests := []struct {
		name           string
		closeClient    bool
		wantClientOpen bool
	}{
		{name: "upstream finishes first", closeClient: false, wantClientOpen: true},
		{name: "client finishes first", closeClient: true, wantClientOpen: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			clientEnd, proxyClient := pipePair(t)
			proxyUpstream, upstreamEnd := pipePair(t)

			result := make(chan bool, 1)
			go func() { result <- relay(proxyClient, proxyClient, proxyUpstream) }()

			io.WriteString(clientEnd, "request")
			buf := make([]byte, len("request"))
			if _, err := io.ReadFull(upstreamEnd, buf); err != nil || string(buf) != "request" {
				t.Fatalf("upstream read %q, %v", buf, err)
			}
			io.WriteString(upstreamEnd, "response")
			buf = make([]byte, len("response"))
			if _, err := io.ReadFull(clientEnd, buf); err != nil || string(buf) != "response" {
				t.Fatalf("client read %q, %v", buf, err)
			}

			if tt.closeClient {
				clientEnd.Close()
			} else {
				upstreamEnd.Close()
			}

			select {
			case open := <-result:
				if open != tt.wantClientOpen {
					t.Errorf("relay() = %v, want %v", open, tt.wantClientOpen)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("relay did not return")
			}
		})
	}
}
