package loom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
)

const DefaultMaxFrameSize = 1 << 20

// DefaultFrameRate matches a 90Hz headset refresh.
const DefaultFrameRate = time.Second / 90

// FrameContext carries per-frame timing to every aspect updated during a
// scene frame.
type FrameContext struct {
	Frame uint64
	Delta time.Duration
}

// Server owns the shared substrate every client's object space plugs
// into: the zoneable and aspect registries, the metric sink, and the QUIC
// listener clients connect through.
type Server struct {
	config config
	logger *slog.Logger
	msink  metrics.MetricSink

	zoneables      *Registry[Spatial]
	sounds         *Registry[Sound]
	inputMethods   *Registry[InputMethod]
	inputHandlers  *Registry[InputHandler]
	pulseSenders   *Registry[PulseSender]
	pulseReceivers *Registry[PulseReceiver]
	items          *Registry[Item]
	itemAcceptors  *Registry[ItemAcceptor]
	itemUIs        *Registry[ItemUI]

	lk      sync.Mutex
	clients map[string]*Client
	tr      *Transport

	frame      atomic.Uint64
	shutdown   bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewServer builds a server from options. Nothing is bound until Serve.
func NewServer(opts ...Option) (*Server, error) {
	srv := &Server{
		zoneables:      NewRegistry[Spatial](),
		sounds:         NewRegistry[Sound](),
		inputMethods:   NewRegistry[InputMethod](),
		inputHandlers:  NewRegistry[InputHandler](),
		pulseSenders:   NewRegistry[PulseSender](),
		pulseReceivers: NewRegistry[PulseReceiver](),
		items:          NewRegistry[Item](),
		itemAcceptors:  NewRegistry[ItemAcceptor](),
		itemUIs:        NewRegistry[ItemUI](),
		clients:        make(map[string]*Client),
		shutdownCh:     make(chan struct{}),
	}
	srv.config.maxFrameSize = DefaultMaxFrameSize
	srv.config.frameRate = DefaultFrameRate
	for _, opt := range opts {
		if err := opt(&srv.config); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if srv.config.logHandler != nil {
		srv.logger = slog.New(srv.config.logHandler)
	} else {
		srv.logger = slog.Default()
	}

	if srv.config.msink == nil {
		srv.config.msink = metrics.Default()
	}
	srv.msink = srv.config.msink

	return srv, nil
}

func (srv *Server) Logger() *slog.Logger {
	return srv.logger
}

// NewClient opens an object space attached to this server. A nil sender
// makes a server-internal client whose nodes never emit remote traffic.
func (srv *Server) NewClient(sender MessageSender) *Client {
	c := newClient(srv, sender)

	srv.lk.Lock()
	srv.clients[c.id] = c
	count := len(srv.clients)
	srv.lk.Unlock()

	srv.msink.SetGaugeWithLabels(MetricLoomClientCount, float32(count), srv.config.metricLabels)
	srv.logger.Info("client connected", LabelClientID.L(c.id))
	return c
}

func (srv *Server) dropClient(c *Client) {
	srv.lk.Lock()
	delete(srv.clients, c.id)
	count := len(srv.clients)
	srv.lk.Unlock()

	srv.msink.SetGaugeWithLabels(MetricLoomClientCount, float32(count), srv.config.metricLabels)
	srv.logger.Info("client disconnected", LabelClientID.L(c.id))
}

// Clients returns a snapshot of the connected clients.
func (srv *Server) Clients() []*Client {
	srv.lk.Lock()
	defer srv.lk.Unlock()
	out := make([]*Client, 0, len(srv.clients))
	for _, c := range srv.clients {
		out = append(out, c)
	}
	return out
}

// UpdateFrame advances one scene frame: sound state machines resolve
// their pending play/stop requests, and input methods are routed to the
// closest handlers. Zone visibility is not recomputed here; zones update
// on their owner's explicit request.
func (srv *Server) UpdateFrame(fc FrameContext) {
	for _, sound := range srv.sounds.GetValidContents() {
		sound.update(fc)
	}
	distributeInput(srv)
}

// Serve binds the QUIC listener and accepts clients until the context is
// cancelled or Shutdown is called. Each accepted session becomes one
// client; its session teardown destroys the whole object space.
func (srv *Server) Serve(ctx context.Context) error {
	srv.lk.Lock()
	if srv.shutdown {
		srv.lk.Unlock()
		return ErrServerClosed
	}
	if srv.tr != nil {
		srv.lk.Unlock()
		return fmt.Errorf("%w: already serving", ErrInvalidCfg)
	}
	tr, err := NewTransport(TransportConfig{
		BindAddr:     srv.config.bindAddr,
		BindPort:     srv.config.bindPort,
		TlsConfig:    srv.config.tlsConfig,
		MaxFrameSize: srv.config.maxFrameSize,
		LogHandler:   srv.config.logHandler,
		MetricSink:   srv.msink,
		MetricLabels: srv.config.metricLabels,
	})
	if err != nil {
		srv.lk.Unlock()
		return err
	}
	srv.tr = tr
	srv.lk.Unlock()

	srv.logger.Info("listening", slog.String("addr", tr.Addr()))
	for {
		session, err := tr.Accept(ctx)
		if err != nil {
			select {
			case <-srv.shutdownCh:
				return ErrServerClosed
			default:
			}
			if ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
				return err
			}
			srv.logger.Warn("accept failed", LabelError.L(err))
			continue
		}
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			session.serve(srv)
		}()
	}
}

// Run drives the frame loop at the configured rate until the context is
// cancelled. Callers embedding the kernel in their own render loop call
// UpdateFrame directly instead.
func (srv *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(srv.config.frameRate)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-srv.shutdownCh:
			return ErrServerClosed
		case now := <-ticker.C:
			srv.UpdateFrame(FrameContext{
				Frame: srv.frame.Add(1),
				Delta: now.Sub(last),
			})
			last = now
		}
	}
}

// Shutdown closes the listener and every client's object space. Safe to
// call more than once.
func (srv *Server) Shutdown(ctx context.Context) error {
	start := time.Now()
	srv.lk.Lock()
	if srv.shutdown {
		srv.lk.Unlock()
		return nil
	}
	srv.shutdown = true
	close(srv.shutdownCh)
	tr := srv.tr
	srv.lk.Unlock()

	if tr != nil {
		tr.Close()
	}
	for _, c := range srv.Clients() {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		srv.logger.Info("shutdown: completed", LabelDuration.L(time.Since(start)))
		return nil
	}
}
