package call

import (
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PeerConnectionFactory builds pion peer connections from the current ICE
// server configuration. The configuration can be swapped at runtime (TURN
// credential refresh, config file reload); existing connections keep the
// configuration they were created with.
type PeerConnectionFactory struct {
	api *webrtc.API

	mu         sync.RWMutex
	iceServers []webrtc.ICEServer
}

// NewPeerConnectionFactory creates a factory with default codecs and
// interceptors. ICE timeouts are generous so a brief relay/NAT hiccup does
// not immediately terminate a call.
func NewPeerConnectionFactory(iceServers []webrtc.ICEServer) (*PeerConnectionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return &PeerConnectionFactory{api: api, iceServers: iceServers}, nil
}

// UpdateICEServers replaces the ICE configuration used for new connections.
func (f *PeerConnectionFactory) UpdateICEServers(servers []webrtc.ICEServer) {
	f.mu.Lock()
	f.iceServers = servers
	f.mu.Unlock()
}

// NewPeerConnection creates a peer connection with the current ICE servers.
func (f *PeerConnectionFactory) NewPeerConnection() (*webrtc.PeerConnection, error) {
	f.mu.RLock()
	config := webrtc.Configuration{ICEServers: f.iceServers}
	f.mu.RUnlock()
	return f.api.NewPeerConnection(config)
}
