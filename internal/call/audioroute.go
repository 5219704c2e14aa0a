package call

import "sync"

// AudioRoute identifies an audio output path.
type AudioRoute string

const (
	AudioRouteEarpiece  AudioRoute = "earpiece"
	AudioRouteSpeaker   AudioRoute = "speaker"
	AudioRouteHeadset   AudioRoute = "headset"
	AudioRouteBluetooth AudioRoute = "bluetooth"
)

// AudioRouter abstracts platform audio output selection. Implementations are
// platform specific; the call core only switches routes in response to model
// changes and exposes the choice to the UI.
type AudioRouter interface {
	CurrentRoute() AudioRoute
	AvailableRoutes() []AudioRoute
	SelectRoute(route AudioRoute) error
}

// AudioRouteController requests a route change when the local video state
// flips: video on asks for the speaker, video off falls back to the
// earpiece. External routes (headset, bluetooth) win; while one is current
// the controller stays hands off.
type AudioRouteController struct {
	router AudioRouter
	local  *LocalCallParticipantModel

	mu        sync.Mutex
	prevVideo bool
	destroyed bool
}

func NewAudioRouteController(local *LocalCallParticipantModel, router AudioRouter) *AudioRouteController {
	c := &AudioRouteController{
		router:    router,
		local:     local,
		prevVideo: local.VideoEnabled(),
	}
	local.AddObserver(c, nil)
	return c
}

// OnLocalParticipantChanged implements LocalModelObserver.
func (c *AudioRouteController) OnLocalParticipantChanged(m *LocalCallParticipantModel) {
	video := m.VideoEnabled()

	c.mu.Lock()
	if c.destroyed || video == c.prevVideo {
		c.mu.Unlock()
		return
	}
	c.prevVideo = video
	c.mu.Unlock()

	switch c.router.CurrentRoute() {
	case AudioRouteHeadset, AudioRouteBluetooth:
		return
	}
	want := AudioRouteEarpiece
	if video {
		want = AudioRouteSpeaker
	}
	if err := c.router.SelectRoute(want); err != nil {
		log.Warnw("audio route change failed", "route", want, "err", err)
	}
}

func (c *AudioRouteController) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()
	c.local.RemoveObserver(c)
}
