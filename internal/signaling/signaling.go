// Package signaling brings up the WebRTC datagram transport. The responder
// hosts a PIN-protected WebSocket server and sends the SDP offer; the
// initiator dials it and answers. ICE candidates trickle both ways until the
// DataChannel opens, after which the WebSocket is closed and only the
// ready-to-use *transport.WebRTCConn remains.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// EstablishAsHost executes the responder-side signaling flow:
//  1. Start a WS server on wsAddr and print its port and PIN
//  2. Wait for the initiator to connect
//  3. Create a WebRTCConn and send the offer
//  4. Wait for the DataChannel to be ready, then close the WS
func EstablishAsHost(ctx context.Context, wsAddr string) (*transport.WebRTCConn, error) {
	srv := newServer(generatePIN(pinLength))
	wsPort, err := srv.start(wsAddr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	pterm.Println()
	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\n\nForward this port if the initiator is remote, then run\n  -role initiator -transport webrtc -wsUrl %s",
			wsPort, srv.pin, srv.joinURL("<host>", wsPort)))
	pterm.Println()
	util.LogInfo("waiting for initiator to connect...")

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for initiator: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("initiator connected to signaling server")

	conn, err := transport.NewWebRTCConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC conn: %w", err)
	}

	s, errCh := startExchange(conn, wsConn)

	// Responder sends the Offer first.
	if err := s.sendOffer(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}

	return awaitReady(ctx, conn, errCh)
}

// EstablishAsClient executes the initiator-side signaling flow:
//  1. Connect to the responder's WS server (wsURL carries the PIN)
//  2. Create a WebRTCConn and answer the offer
//  3. Wait for the DataChannel to be ready, then close the WS
func EstablishAsClient(ctx context.Context, wsURL string) (*transport.WebRTCConn, error) {
	util.LogInfo("connecting to responder...")
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("WS connected: %s", wsURL)

	conn, err := transport.NewWebRTCConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC conn: %w", err)
	}

	_, errCh := startExchange(conn, wsConn)
	return awaitReady(ctx, conn, errCh)
}

// startExchange wires trickle ICE to the WebSocket and starts the receiver
// loop. The loop exits when wsConn is closed.
func startExchange(conn *transport.WebRTCConn, wsConn *websocket.Conn) (*sender, <-chan error) {
	s := &sender{peer: conn, conn: wsConn}
	r := &receiver{peer: conn, conn: wsConn, sender: s}

	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		// Best effort: ICE keeps trying the candidates it already has.
		if err := s.sendCandidate(string(data)); err != nil {
			util.LogDebug("failed to send ICE candidate: %v", err)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()
	return s, errCh
}

func awaitReady(ctx context.Context, conn *transport.WebRTCConn, errCh <-chan error) (*transport.WebRTCConn, error) {
	select {
	case <-conn.Ready():
		util.LogSuccess("WebRTC DataChannel established, closing WS")
		return conn, nil

	case err := <-errCh:
		conn.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
}
