package signaling

import (
	"fmt"
	"log"
	"time"

	"github.com/pion/webrtc/v4"

	"interviewhelper/internal/message"
)

// iceGatherTimeout bounds the wait for ICE candidate gathering before the
// answer SDP is returned. Vanilla ICE on the answer side: the client
// trickles to us, we reply with a complete description.
const iceGatherTimeout = 15 * time.Second

// NewWebRTCFactory returns a TransportFactory backed by pion. The given
// ICE servers (STUN/TURN) are used for candidate gathering; an empty list
// yields host candidates only, which suffices for local testing.
func NewWebRTCFactory(iceServers []webrtc.ICEServer) TransportFactory {
	config := webrtc.Configuration{ICEServers: iceServers}

	return func(cb Callbacks) (PeerTransport, error) {
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if track.Kind() != webrtc.RTPCodecTypeAudio {
				return
			}
			log.Printf("signaling: audio track attached (%s)", track.Codec().MimeType)
			go func() {
				for {
					pkt, _, err := track.ReadRTP()
					if err != nil {
						return
					}
					if len(pkt.Payload) > 0 && cb.OnFrame != nil {
						cb.OnFrame(pkt.Payload)
					}
				}
			}()
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			switch state {
			case webrtc.PeerConnectionStateConnected:
				cb.OnStateChange(TransportConnected)
			case webrtc.PeerConnectionStateDisconnected:
				cb.OnStateChange(TransportDisconnected)
			case webrtc.PeerConnectionStateFailed:
				cb.OnStateChange(TransportFailed)
			}
		})

		return &webrtcTransport{pc: pc}, nil
	}
}

type webrtcTransport struct {
	pc *webrtc.PeerConnection
}

func (t *webrtcTransport) SetRemoteDescription(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// CreateAnswer synthesizes the local answer and waits for ICE gathering
// so the returned SDP is complete.
func (t *webrtcTransport) CreateAnswer() (string, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	}

	return t.pc.LocalDescription().SDP, nil
}

func (t *webrtcTransport) AddICECandidate(cand message.ICECandidateData) error {
	if cand.Candidate == "" {
		// End-of-candidates marker from the client.
		return nil
	}
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (t *webrtcTransport) Close() error {
	return t.pc.Close()
}
