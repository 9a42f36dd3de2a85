package loom

import (
	"context"
	"io"
	"sync"

	"github.com/hashicorp/go-metrics"
)

// MessageSender is a node's channel back to the remote endpoint that owns
// it. Implementations must be safe for concurrent use.
type MessageSender interface {
	// Signal delivers a one-way event. Out-of-band resources travel only
	// when the implementation is in-process; remote senders strip them.
	Signal(path, name string, msg Message) error

	// Method runs a correlated request/response exchange. It blocks until
	// a response arrives, the context is cancelled or the channel dies.
	Method(ctx context.Context, path, name string, msg Message) (Message, error)
}

type methodReply struct {
	body []byte
	err  error
}

// remoteSender frames messages onto a stream and correlates method
// replies by serial. A dead sender fails every pending and future call
// with the error that killed it.
type remoteSender struct {
	msink    metrics.MetricSink
	labels   []metrics.Label
	maxFrame int

	// wlk serializes whole frames onto the stream.
	wlk sync.Mutex
	w   io.Writer

	lk      sync.Mutex
	serial  uint64
	pending map[uint64]chan methodReply
	dead    error
}

func newRemoteSender(w io.Writer, maxFrame int, msink metrics.MetricSink, labels []metrics.Label) *remoteSender {
	if msink == nil {
		msink = &metrics.BlackholeSink{}
	}
	return &remoteSender{
		msink:    msink,
		labels:   labels,
		maxFrame: maxFrame,
		w:        w,
		pending:  make(map[uint64]chan methodReply),
	}
}

func (rs *remoteSender) write(frame wireFrame) error {
	rs.lk.Lock()
	dead := rs.dead
	rs.lk.Unlock()
	if dead != nil {
		return dead
	}

	rs.wlk.Lock()
	n, err := writeFrame(rs.w, frame, rs.maxFrame)
	rs.wlk.Unlock()
	if err != nil {
		rs.msink.IncrCounterWithLabels(MetricLoomFrameErrorCount, 1.0, rs.labels)
		return err
	}
	rs.msink.IncrCounterWithLabels(MetricLoomFrameOutBytes, float32(n), rs.labels)
	return nil
}

func (rs *remoteSender) Signal(path, name string, msg Message) error {
	return rs.write(wireFrame{
		Kind: frameKindSignal,
		Path: path,
		Name: name,
		Body: msg.Data,
	})
}

func (rs *remoteSender) Method(ctx context.Context, path, name string, msg Message) (Message, error) {
	reply := make(chan methodReply, 1)

	rs.lk.Lock()
	if rs.dead != nil {
		err := rs.dead
		rs.lk.Unlock()
		return Message{}, err
	}
	rs.serial++
	serial := rs.serial
	rs.pending[serial] = reply
	rs.lk.Unlock()

	err := rs.write(wireFrame{
		Kind:   frameKindMethod,
		Serial: serial,
		Path:   path,
		Name:   name,
		Body:   msg.Data,
	})
	if err != nil {
		rs.lk.Lock()
		delete(rs.pending, serial)
		rs.lk.Unlock()
		return Message{}, err
	}

	select {
	case <-ctx.Done():
		rs.lk.Lock()
		delete(rs.pending, serial)
		rs.lk.Unlock()
		return Message{}, ctx.Err()
	case res := <-reply:
		if res.err != nil {
			return Message{}, res.err
		}
		return MessageFrom(res.body), nil
	}
}

// deliverReply completes a pending exchange. Unknown serials are dropped;
// a response racing its own cancellation is not a protocol error.
func (rs *remoteSender) deliverReply(serial uint64, body []byte, err error) {
	rs.lk.Lock()
	reply, ok := rs.pending[serial]
	delete(rs.pending, serial)
	rs.lk.Unlock()
	if !ok {
		return
	}
	reply <- methodReply{body: body, err: err}
}

// closeWith kills the sender. Every pending exchange completes with err,
// as does every call made after.
func (rs *remoteSender) closeWith(err error) {
	if err == nil {
		err = ErrTransportClosed
	}
	rs.lk.Lock()
	if rs.dead != nil {
		rs.lk.Unlock()
		return
	}
	rs.dead = err
	pending := rs.pending
	rs.pending = make(map[uint64]chan methodReply)
	rs.lk.Unlock()

	for _, reply := range pending {
		reply <- methodReply{err: err}
	}
}
