// Package webrtc wires pion/webrtc/v4 into corestream's source hub.
// It does not reimplement ICE/DTLS/SRTP — that is exactly the part
// pion already owns — it owns the state machine, SDP negotiation
// policy, and the track-to-Source plumbing a reimplementer actually
// has to write (§4.3), grounded on the mediamtx-lineage pack files'
// PeerConnection wrapper and session flow.
package webrtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/log"
	"redalf.de/corestream/pkg/runtime"
)

// State is the connection's lifecycle stage, named directly off the
// spec's four-stage machine.
type State int

const (
	Init State = iota
	WaitingStun
	DtlsHandshake
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case WaitingStun:
		return "waiting_stun"
	case DtlsHandshake:
		return "dtls_handshake"
	case Established:
		return "established"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultSTUNTimeout is the spec's stun_timeout default: a connection
// stuck before Established this long is declared dead.
const DefaultSTUNTimeout = 30 * time.Second

// releaseOnErr returns a reserved port pair when New aborts before
// building a Connection to own the release.
func releaseOnErr(release func()) {
	if release != nil {
		release()
	}
}

// Connection wraps a pion PeerConnection with the explicit state field
// the spec asks for, advanced from pion's two state-change callbacks
// rather than inferred after the fact.
type Connection struct {
	STUNTimeout time.Duration
	Publish     bool // true: remote sends us media. false: we send media to remote.

	pc *webrtc.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	lastActive time.Time

	established chan struct{}
	closed      chan struct{}
	onceEst     sync.Once
	onceClosed  sync.Once

	releasePort func()
}

// New builds the pion API (SettingEngine + MediaEngine + interceptor
// registry) and a PeerConnection, mirroring the teacher-adjacent
// PeerConnection.Start layout: register the codec allow-list (HEVC
// only when cfg.HEVC is set), register NACK/TWCC interceptors, then
// construct.
func New(cfg Config) (*Connection, error) {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)

	var releasePort func()
	switch {
	case cfg.Allocator != nil:
		port, release, err := cfg.Allocator.ReservePair()
		if err != nil {
			return nil, errs.Wrap(errs.KindResource, err, "webrtc: reserve udp port pair")
		}
		conn, ok := cfg.Allocator.GetConn(port)
		if !ok {
			release()
			return nil, errs.New(errs.KindFatal, "webrtc: allocator reserved a port it cannot hand back a conn for")
		}
		se.SetICEUDPMux(ice.NewUDPMuxDefault(ice.UDPMuxParams{UDPConn: conn}))
		releasePort = release
	case cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin:
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, errs.Wrap(errs.KindFatal, err, "webrtc: set udp port range")
		}
	}

	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me, cfg.HEVC); err != nil {
		releaseOnErr(releasePort)
		return nil, errs.Wrap(errs.KindProtocol, err, "webrtc: register codecs")
	}

	ir := &interceptor.Registry{}
	if err := webrtc.ConfigureNack(me, ir); err != nil {
		releaseOnErr(releasePort)
		return nil, errs.Wrap(errs.KindFatal, err, "webrtc: configure nack")
	}
	if err := webrtc.ConfigureTWCCSender(me, ir); err != nil {
		releaseOnErr(releasePort)
		return nil, errs.Wrap(errs.KindFatal, err, "webrtc: configure twcc")
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		releaseOnErr(releasePort)
		return nil, errs.Wrap(errs.KindFatal, err, "webrtc: new peer connection")
	}

	timeout := cfg.STUNTimeout
	if timeout <= 0 {
		timeout = DefaultSTUNTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		STUNTimeout: timeout,
		Publish:     cfg.Publish,
		pc:          pc,
		ctx:         ctx,
		cancel:      cancel,
		state:       Init,
		lastActive:  time.Now(),
		established: make(chan struct{}),
		closed:      make(chan struct{}),
		releasePort: releasePort,
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.mu.Lock()
		c.lastActive = time.Now()
		if c.state == Init {
			c.state = WaitingStun
		}
		c.mu.Unlock()
		log.Debug("webrtc: ice connection state", "state", s.String())
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.mu.Lock()
		c.lastActive = time.Now()
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			if c.state < DtlsHandshake {
				c.state = DtlsHandshake
			}
		case webrtc.PeerConnectionStateConnected:
			c.state = Established
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.state = Closed
		}
		st := c.state
		c.mu.Unlock()

		log.Info("webrtc: connection state", "state", s.String())
		if st == Established {
			c.onceEst.Do(func() { close(c.established) })
		}
		if st == Closed {
			c.onceClosed.Do(func() { close(c.closed) })
		}
	})

	return c, nil
}

// PC exposes the underlying pion connection for negotiation/track code
// in the same package.
func (c *Connection) PC() *webrtc.PeerConnection { return c.pc }

// pcContext is a context whose lifetime matches the connection's own,
// cancelled by Close — used to bound per-track reader goroutines.
func (c *Connection) pcContext() context.Context { return c.ctx }

// State reports the current lifecycle stage.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitEstablished blocks until the connection reaches Established, ctx
// is cancelled, or STUNTimeout elapses after this call.
func (c *Connection) WaitEstablished(ctx context.Context) error {
	select {
	case <-c.established:
		return nil
	case <-c.closed:
		return errs.New(errs.KindFatal, "webrtc: connection closed before establishment")
	case <-ctx.Done():
		return errs.Wrap(errs.KindTimeout, ctx.Err(), "webrtc: wait established")
	case <-time.After(c.STUNTimeout):
		return errs.New(errs.KindTimeout, "webrtc: stun_timeout exceeded before establishment")
	}
}

// Closed reports the channel closed once the connection is torn down,
// for callers that want to select on it alongside other work.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// LivenessCheck is registered on a runtime.Hourglass by callers to
// enforce STUNTimeout for connections stuck pre-Established — the
// spec's "stun_timeout enforced by a Hourglass-registered liveness
// check" bullet.
func (c *Connection) LivenessCheck() {
	c.mu.Lock()
	st := c.state
	stale := time.Since(c.lastActive) > c.STUNTimeout
	c.mu.Unlock()

	if st != Established && st != Closed && stale {
		log.Warn("webrtc: stun_timeout exceeded, closing connection")
		c.Close()
	}
}

// Close gracefully tears down the peer connection.
func (c *Connection) Close() {
	c.cancel()
	_ = c.pc.Close()
	if c.releasePort != nil {
		c.releasePort()
	}
	c.onceClosed.Do(func() { close(c.closed) })
}

// RegisterLiveness arms the 30s-default liveness check on h, clamped
// to the connection's own STUNTimeout cadence like the spec asks.
func (c *Connection) RegisterLiveness(h *runtime.Hourglass) {
	h.Register(c.STUNTimeout/3, c.LivenessCheck)
}
