package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rudp/internal/util"
)

// receiver applies inbound signaling messages to the local peer. An offer is
// answered through sender.
type receiver struct {
	peer   negotiator
	conn   *websocket.Conn
	sender *sender
}

// watch reads messages until the WebSocket fails or a message cannot be
// applied. Unknown message types are skipped.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.peer.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return fmt.Errorf("failed to apply offer: %w", err)
			}
			if err := r.sender.sendAnswer(); err != nil {
				return fmt.Errorf("failed to send answer: %w", err)
			}

		case msgTypeAnswer:
			if err := r.peer.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return fmt.Errorf("failed to apply answer: %w", err)
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if err := r.peer.AddICECandidate(init); err != nil {
				return err
			}

		default:
			util.LogDebug("ignoring signaling message of type %q", msg.Type)
		}
	}
}
