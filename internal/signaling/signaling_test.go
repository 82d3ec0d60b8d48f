package signaling

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// fakeNegotiator records what the signaling layer applies to it.
type fakeNegotiator struct {
	mu         sync.Mutex
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	events     chan string
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{events: make(chan string, 16)}
}

func (f *fakeNegotiator) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (f *fakeNegotiator) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakeNegotiator) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	f.local = append(f.local, d)
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	f.remote = append(f.remote, d)
	f.mu.Unlock()
	f.events <- "remote:" + d.SDP
	return nil
}

func (f *fakeNegotiator) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	f.candidates = append(f.candidates, c)
	f.mu.Unlock()
	f.events <- "candidate:" + c.Candidate
	return nil
}

func (f *fakeNegotiator) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-f.events:
		if got != want {
			t.Fatalf("event: got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

// startTestServer serves handleWS over httptest and returns the ws:// URL
// without a PIN.
func startTestServer(t *testing.T, srv *server) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// dialPair connects a client to srv and returns both ends.
func dialPair(t *testing.T, srv *server, url string) (host, client *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := connect(ctx, url+"?pin="+srv.pin)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	host, err = srv.waitForClient(ctx)
	if err != nil {
		t.Fatalf("waitForClient: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		host.Close()
	})
	return host, client
}

func TestConnectRejectsWrongPIN(t *testing.T) {
	srv := newServer("123456")
	url := startTestServer(t, srv)

	testCases := []struct {
		name  string
		query string
	}{
		{"wrong pin", "?pin=654321"},
		{"missing pin", ""},
		{"prefix of pin", "?pin=123"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := connect(context.Background(), url+tc.query)
			if err == nil || !strings.Contains(err.Error(), "invalid PIN") {
				t.Fatalf("expected invalid PIN error, got %v", err)
			}
		})
	}
}

func TestServerAcceptsOnlyFirstClient(t *testing.T) {
	srv := newServer("000111")
	url := startTestServer(t, srv)

	// The first connection stays queued, unclaimed, in the server.
	first, err := connect(context.Background(), url+"?pin="+srv.pin)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer first.Close()
	for deadline := time.Now().Add(2 * time.Second); len(srv.connCh) == 0; {
		if time.Now().After(deadline) {
			t.Fatal("first connection never queued")
		}
		time.Sleep(time.Millisecond)
	}

	second, err := connect(context.Background(), url+"?pin="+srv.pin)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy-violation close, got %v", err)
	}
}

// TestOfferAnswerExchange runs the full message flow between two fake peers:
// offer one way, answer back, then a trickled candidate.
func TestOfferAnswerExchange(t *testing.T) {
	srv := newServer(generatePIN(pinLength))
	url := startTestServer(t, srv)
	hostWS, clientWS := dialPair(t, srv, url)

	hostPeer, clientPeer := newFakeNegotiator(), newFakeNegotiator()

	hs := &sender{peer: hostPeer, conn: hostWS}
	cs := &sender{peer: clientPeer, conn: clientWS}
	go (&receiver{peer: hostPeer, conn: hostWS, sender: hs}).watch()
	go (&receiver{peer: clientPeer, conn: clientWS, sender: cs}).watch()

	if err := hs.sendOffer(); err != nil {
		t.Fatalf("sendOffer: %v", err)
	}
	clientPeer.expect(t, "remote:offer-sdp")
	hostPeer.expect(t, "remote:answer-sdp")

	cand, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	if err := cs.sendCandidate(string(cand)); err != nil {
		t.Fatalf("sendCandidate: %v", err)
	}
	hostPeer.expect(t, "candidate:candidate:1 1 udp 1 10.0.0.1 5000 typ host")

	hostPeer.mu.Lock()
	defer hostPeer.mu.Unlock()
	if len(hostPeer.local) != 1 || hostPeer.local[0].Type != webrtc.SDPTypeOffer {
		t.Errorf("host local descriptions: %+v", hostPeer.local)
	}
	clientPeer.mu.Lock()
	defer clientPeer.mu.Unlock()
	if len(clientPeer.local) != 1 || clientPeer.local[0].Type != webrtc.SDPTypeAnswer {
		t.Errorf("client local descriptions: %+v", clientPeer.local)
	}
}

func TestReceiverSkipsUnknownAndFailsOnBadCandidate(t *testing.T) {
	srv := newServer(generatePIN(pinLength))
	url := startTestServer(t, srv)
	hostWS, clientWS := dialPair(t, srv, url)

	peer := newFakeNegotiator()
	errCh := make(chan error, 1)
	go func() {
		errCh <- (&receiver{peer: peer, conn: hostWS, sender: &sender{peer: peer, conn: hostWS}}).watch()
	}()

	clientWS.WriteJSON(message{Type: "bye"})
	clientWS.WriteJSON(message{Type: msgTypeCandidate, Candidate: "{not json"})

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "ICE candidate") {
			t.Fatalf("expected candidate parse error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}

	if len(peer.candidates) != 0 || len(peer.remote) != 0 {
		t.Errorf("nothing should have been applied: %+v %+v", peer.candidates, peer.remote)
	}
}

func TestJoinURL(t *testing.T) {
	srv := newServer("123456")
	testCases := []struct {
		host string
		want string
	}{
		{"127.0.0.1", "ws://127.0.0.1:8080/ws?pin=123456"},
		{"::1", "ws://[::1]:8080/ws?pin=123456"},
		{"example.com", "ws://example.com:8080/ws?pin=123456"},
	}

	for _, tc := range testCases {
		t.Run(tc.host, func(t *testing.T) {
			if got := srv.joinURL(tc.host, 8080); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

// TestJoinURLDials checks that the advertised URL passes the PIN check.
func TestJoinURLDials(t *testing.T) {
	srv := newServer(generatePIN(pinLength))
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	defer ts.Close()

	addr := ts.Listener.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := connect(ctx, srv.joinURL("127.0.0.1", addr.Port))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	host, err := srv.waitForClient(ctx)
	if err != nil {
		t.Fatalf("waitForClient: %v", err)
	}
	host.Close()
}

func TestGeneratePIN(t *testing.T) {
	for range 50 {
		pin := generatePIN(pinLength)
		if len(pin) != pinLength {
			t.Fatalf("pin %q: got length %d, want %d", pin, len(pin), pinLength)
		}
		for _, c := range pin {
			if c < '0' || c > '9' {
				t.Fatalf("pin %q contains non-digit %q", pin, c)
			}
		}
	}
}
