package loom

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/quic-go/quic-go"
)

const defaultUDPBufferSize int = 1 << 21

// TransportConfig represents configuration for the compositor wire
// protocol.
type TransportConfig struct {
	// BindAddr and BindPort are where we want the listener to bind.
	BindAddr string
	BindPort int

	// TlsConfig is mandatory; there is no cleartext mode.
	TlsConfig *tls.Config

	// MaxFrameSize caps a single wire frame in both directions.
	MaxFrameSize int

	// MetricLabels to add to every metric emitted by the transport.
	MetricLabels []metrics.Label

	// MetricSink to use for emitting metrics.
	MetricSink metrics.MetricSink

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler
}

// Transport owns the UDP socket and QUIC listener clients connect
// through. One accepted QUIC connection is one client session.
type Transport struct {
	cfg    TransportConfig
	logger *slog.Logger
	msink  metrics.MetricSink

	// graceful termination asked, do not spam connection errors in logs
	gracefulTerm atomic.Bool

	tr    *quic.Transport
	ln    *quic.Listener
	udpLn *net.UDPConn
}

func NewTransport(cfg TransportConfig) (t *Transport, err error) {
	if cfg.TlsConfig == nil {
		return nil, ErrNoTLSConfig
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}

	t = &Transport{cfg: cfg}

	if cfg.LogHandler == nil {
		t.logger = slog.Default()
	} else {
		t.logger = slog.New(cfg.LogHandler)
	}

	if cfg.MetricSink == nil {
		t.msink = metrics.Default()
	} else {
		t.msink = cfg.MetricSink
	}

	defer func() {
		if err != nil {
			t.Close()
		}
	}()

	port := cfg.BindPort
	if port == 0 {
		port = 20032
	}
	addr := net.ParseIP(cfg.BindAddr)
	if addr == nil {
		addr = net.IPv4zero
	}

	udpLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: addr, Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to allocate UDP listener: %w", err)
	}
	t.udpLn = udpLn
	_ = udpLn.SetReadBuffer(defaultUDPBufferSize)

	t.tr = &quic.Transport{
		Conn: udpLn,
	}

	ln, err := t.tr.Listen(cfg.TlsConfig, &quic.Config{
		Versions:        []quic.Version{quic.Version2, quic.Version1},
		EnableDatagrams: false,
		Allow0RTT:       false,
		MaxIdleTimeout:  1 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to allocate QUIC listener: %w", err)
	}
	t.ln = ln
	return t, nil
}

func (t *Transport) Addr() string {
	if t.udpLn == nil {
		return ""
	}
	return t.udpLn.LocalAddr().String()
}

// Accept blocks for the next client session.
func (t *Transport) Accept(ctx context.Context) (*session, error) {
	conn, err := t.ln.Accept(ctx)
	if err != nil {
		if t.gracefulTerm.Load() {
			return nil, ErrTransportClosed
		}
		return nil, err
	}
	return &session{
		conn:     conn,
		logger:   t.logger.With(LabelPeerAddr.L(conn.RemoteAddr().String())),
		msink:    t.msink,
		labels:   append(t.cfg.MetricLabels, LabelPeerAddr.M(conn.RemoteAddr().String())),
		maxFrame: t.cfg.MaxFrameSize,
	}, nil
}

func (t *Transport) Close() {
	t.gracefulTerm.Store(true)
	if t.ln != nil {
		_ = t.ln.Close()
	}
	if t.tr != nil {
		_ = t.tr.Close()
	}
	if t.udpLn != nil {
		_ = t.udpLn.Close()
	}
}

// session is one connected client: a QUIC connection carrying a single
// bidirectional frame stream. When the stream or the connection dies the
// whole object space dies with it.
type session struct {
	conn     quic.Connection
	logger   *slog.Logger
	msink    metrics.MetricSink
	labels   []metrics.Label
	maxFrame int
}

func (s *session) serve(srv *Server) {
	ctx := s.conn.Context()
	stream, err := s.conn.AcceptStream(ctx)
	if err != nil {
		s.logger.Warn("no stream from peer", LabelError.L(err))
		_ = QErrProtocol.Close(s.conn, "expected a frame stream")
		return
	}

	sender := newRemoteSender(stream, s.maxFrame, s.msink, s.labels)
	client := srv.NewClient(sender)
	defer func() {
		sender.closeWith(ErrTransportClosed)
		client.Close()
	}()

	for {
		frame, n, err := readFrame(stream, s.maxFrame)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				s.logger.Debug("session ended", LabelError.L(err))
			}
			if errors.Is(err, ErrTooLargeFrame) || errors.Is(err, ErrProtocolViolation) {
				s.msink.IncrCounterWithLabels(MetricLoomFrameErrorCount, 1.0, s.labels)
				_ = QErrProtocol.Close(s.conn, err.Error())
			} else {
				_ = QErrShutdown.Close(s.conn, "bye")
			}
			return
		}
		s.msink.IncrCounterWithLabels(MetricLoomFrameInBytes, float32(n), s.labels)
		s.dispatch(client, sender, frame)
	}
}

func (s *session) dispatch(client *Client, sender *remoteSender, frame wireFrame) {
	switch frame.Kind {
	case frameKindSignal:
		err := client.Scenegraph().SendSignal(frame.Path, frame.Name, MessageFrom(frame.Body))
		if err != nil {
			s.logger.Debug("signal failed",
				LabelNodePath.L(frame.Path),
				LabelSignalName.L(frame.Name),
				LabelError.L(err))
		}
	case frameKindMethod:
		serial := frame.Serial
		response := NewMethodResponseSender(func(res MethodResult) {
			reply := wireFrame{Kind: frameKindReply, Serial: serial}
			if res.Err != nil {
				reply.Error = res.Err.Error()
			} else {
				reply.Body = res.Data
			}
			if err := sender.write(reply); err != nil {
				s.logger.Debug("reply dropped", LabelError.L(err))
			}
		})
		// Methods may block on other clients; keep the read loop hot.
		go client.Scenegraph().ExecuteMethod(frame.Path, frame.Name, MessageFrom(frame.Body), response)
	case frameKindReply:
		var err error
		if frame.Error != "" {
			err = &MethodError{Method: frame.Name, Message: frame.Error}
		}
		sender.deliverReply(frame.Serial, frame.Body, err)
	default:
		s.msink.IncrCounterWithLabels(MetricLoomFrameErrorCount, 1.0, s.labels)
		s.logger.Warn("unknown frame kind", slog.String("kind", frame.Kind))
	}
}
