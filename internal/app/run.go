package app

import (
	"context"
	"errors"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/avdwal/callcore/internal/call"
	"github.com/avdwal/callcore/internal/config"
	"github.com/avdwal/callcore/internal/signaling"
)

var log = logging.Logger("app")

type Options struct {
	CfgPath string
	Cfg     config.Config

	// RoomID is the room to join after connecting.
	RoomID string

	// SessionID pre-assigns the local session id for internal-mode backends,
	// which issue sessions out of band. Ignored in external mode.
	SessionID string

	// AudioRouter, when the host platform provides one, lets the core steer
	// the output route between earpiece and speaker as video toggles.
	AudioRouter call.AudioRouter
}

// Run connects to the configured signaling backend, joins the room and keeps
// the call object graph alive until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	if opt.RoomID == "" {
		return errors.New("room id is required")
	}

	cfg := opt.Cfg
	receiver := signaling.NewReceiver()

	factory, err := call.NewPeerConnectionFactory(iceServers(cfg.ICE))
	if err != nil {
		return err
	}

	// Live ICE updates (e.g. rotated TURN credentials) only affect
	// connections created after the reload.
	if opt.CfgPath != "" {
		watcher, err := config.Watch(opt.CfgPath, func(next config.Config) {
			factory.UpdateICEServers(iceServers(next.ICE))
		})
		if err != nil {
			log.Warnw("config watch unavailable", "err", err)
		} else {
			defer watcher.Close()
		}
	}

	var transport Transport
	switch cfg.Signaling.Mode {
	case config.ModeInternal:
		t := signaling.NewInternalTransport(receiver, cfg.Signaling.URL,
			time.Duration(cfg.Signaling.PollSec)*time.Second)
		t.SetSessionID(opt.SessionID)
		t.RoomJoinedFunc = func(roomID string) { log.Infow("room joined", "room", roomID) }
		t.Start(ctx)
		transport = t
	default:
		t := signaling.NewExternalTransport(receiver, cfg.Signaling.URL,
			cfg.Signaling.BackendURL, cfg.Signaling.Ticket)
		t.RoomJoinedFunc = func(roomID string) { log.Infow("room joined", "room", roomID) }
		t.Start(ctx)
		transport = t
	}
	defer transport.Close()

	localModel := call.NewLocalCallParticipantModel()
	if opt.AudioRouter != nil {
		routes := call.NewAudioRouteController(localModel, opt.AudioRouter)
		defer routes.Destroy()
	}
	session := NewSession(cfg, receiver, transport, factory, localModel)
	defer session.Close()

	transport.JoinRoom(opt.RoomID)

	// The probe joins with an open microphone and camera.
	localModel.SetAudioEnabled(true)
	localModel.SetVideoEnabled(true)

	<-ctx.Done()
	log.Infow("shutting down")
	return nil
}

func iceServers(ice config.ICE) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(ice.Servers))
	for _, s := range ice.Servers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}
