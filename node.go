package loom

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
)

const MaxNodeNameLength = 128

var InvalidNodeName = regexp.MustCompile(`[^A-Za-z0-9\-\._]+`)

func ValidateNodeName(name string) bool {
	return name != "" && !InvalidNodeName.MatchString(name) && len(name) <= MaxNodeNameLength
}

// SignalHandler executes a one-way call on a node.
type SignalHandler func(node *Node, calling *Client, msg Message) error

// MethodHandler executes a request/response call on a node. Implementations
// MUST complete the response sender exactly once, possibly from another
// goroutine.
type MethodHandler func(node *Node, calling *Client, msg Message, response MethodResponseSender)

// MethodResult is the outcome of a method call.
type MethodResult struct {
	Data  []byte
	Files []*os.File
	Err   error
}

// MethodResponseSender completes a method call. Send is safe to call more
// than once; only the first completion is delivered.
type MethodResponseSender struct {
	once *sync.Once
	send func(MethodResult)
}

func NewMethodResponseSender(send func(MethodResult)) MethodResponseSender {
	return MethodResponseSender{
		once: &sync.Once{},
		send: send,
	}
}

func (s MethodResponseSender) Send(res MethodResult) {
	s.once.Do(func() {
		s.send(res)
	})
}

func (s MethodResponseSender) SendError(err error) {
	s.Send(MethodResult{Err: err})
}

// slot is an aspect holder assignable exactly once over a node's lifetime.
// A second assignment is a construction-time failure, never a silent
// overwrite.
type slot[T any] struct {
	lk  sync.Mutex
	has bool
	v   T
}

func (s *slot[T]) set(v T) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.has {
		return ErrAspectTaken
	}
	s.v = v
	s.has = true
	return nil
}

func (s *slot[T]) get() (T, bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.v, s.has
}

// Node is an addressable scene object: a stable id, a path unique within
// its client's object space, dynamic signal/method dispatch tables, and a
// fixed set of set-once aspect slots.
type Node struct {
	id          string
	path        string
	client      *Client
	sender      MessageSender
	destroyable bool

	enabled   atomic.Bool
	destroyed atomic.Bool

	// Dispatch tables are write-once at construction, read-many after the
	// node is published; the lock only covers the registration window.
	lk           sync.Mutex
	localSignals map[string]SignalHandler
	localMethods map[string]MethodHandler

	alias   slot[*Alias]
	aliases *Registry[Alias]

	spatial slot[*Spatial]
	field   slot[Field]
	zone    slot[*Zone]

	sound slot[*Sound]

	inputMethod  slot[*InputMethod]
	inputHandler slot[*InputHandler]

	item         slot[*Item]
	itemAcceptor slot[*ItemAcceptor]
	itemUI       slot[*ItemUI]

	pulseSender   slot[*PulseSender]
	pulseReceiver slot[*PulseReceiver]
}

// NewNode creates an unpublished node under a parent path. It is not
// visible to any other context until AddToScenegraph.
func NewNode(client *Client, parent, name string, destroyable bool) *Node {
	return NewNodeAtPath(client, parent+"/"+name, destroyable)
}

func NewNodeAtPath(client *Client, path string, destroyable bool) *Node {
	node := &Node{
		id:           uuid.NewString(),
		path:         path,
		client:       client,
		destroyable:  destroyable,
		localSignals: make(map[string]SignalHandler),
		localMethods: make(map[string]MethodHandler),
		aliases:      NewRegistry[Alias](),
	}
	if client != nil {
		node.sender = client.sender
	}
	node.enabled.Store(true)
	node.addNodeMembers()
	return node
}

// addNodeMembers registers the dispatch surface every node carries.
func (n *Node) addNodeMembers() {
	n.AddLocalSignal("set_enabled", func(node *Node, _ *Client, msg Message) error {
		var enabled bool
		if err := Deserialize(msg.Data, &enabled); err != nil {
			return err
		}
		node.enabled.Store(enabled)
		return nil
	})
	n.AddLocalSignal("destroy", func(node *Node, _ *Client, _ Message) error {
		if node.destroyable {
			node.Destroy()
		}
		return nil
	})
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Path() string {
	return n.path
}

func (n *Node) Destroyable() bool {
	return n.destroyable
}

func (n *Node) Enabled() bool {
	return n.enabled.Load()
}

func (n *Node) SetEnabled(enabled bool) {
	n.enabled.Store(enabled)
}

func (n *Node) Destroyed() bool {
	return n.destroyed.Load()
}

// Client returns the owning client, or nil if it is gone.
func (n *Node) Client() *Client {
	if n.client == nil || n.client.dead.Load() {
		return nil
	}
	return n.client
}

// AddToScenegraph publishes the node into its client's object space. The
// node must be fully constructed: no aspect can be attached after another
// context can reach it.
func (n *Node) AddToScenegraph() (*Node, error) {
	client := n.Client()
	if client == nil {
		return nil, ErrClientGone
	}
	return client.sg.AddNode(n)
}

// Destroy removes the node from its scenegraph and runs aspect cleanup.
// Idempotent.
func (n *Node) Destroy() {
	if !n.destroyed.CompareAndSwap(false, true) {
		return
	}
	if alias, ok := n.alias.get(); ok {
		alias.original.aliases.Remove(alias)
	}
	if zone, ok := n.zone.get(); ok {
		zone.teardown()
	}
	if spatial, ok := n.spatial.get(); ok {
		spatial.teardown()
	}
	if sound, ok := n.sound.get(); ok {
		sound.teardown()
	}
	if im, ok := n.inputMethod.get(); ok {
		im.teardown()
	}
	if ih, ok := n.inputHandler.get(); ok {
		ih.teardown()
	}
	if item, ok := n.item.get(); ok {
		item.teardown()
	}
	if acceptor, ok := n.itemAcceptor.get(); ok {
		acceptor.teardown()
	}
	if ui, ok := n.itemUI.get(); ok {
		ui.teardown()
	}
	if ps, ok := n.pulseSender.get(); ok {
		ps.teardown()
	}
	if pr, ok := n.pulseReceiver.get(); ok {
		pr.teardown()
	}
	if client := n.Client(); client != nil {
		client.sg.RemoveNode(n.path)
	}
}

// AddLocalSignal registers a one-way handler. Re-registering a name
// replaces the handler. Registration must complete before the node is
// published.
func (n *Node) AddLocalSignal(name string, handler SignalHandler) {
	n.lk.Lock()
	defer n.lk.Unlock()
	n.localSignals[name] = handler
}

// AddLocalMethod registers a request/response handler under a name, with
// the same publication rule as AddLocalSignal.
func (n *Node) AddLocalMethod(name string, handler MethodHandler) {
	n.lk.Lock()
	defer n.lk.Unlock()
	n.localMethods[name] = handler
}

// Spatial returns the node's spatial aspect.
func (n *Node) Spatial() (*Spatial, bool) {
	return n.spatial.get()
}

// Field returns the node's field aspect.
func (n *Node) Field() (Field, bool) {
	return n.field.get()
}

// Zone returns the node's zone aspect.
func (n *Node) Zone() (*Zone, bool) {
	return n.zone.get()
}

// Alias returns the alias identity if this node is a capability-scoped
// proxy.
func (n *Node) Alias() (*Alias, bool) {
	return n.alias.get()
}

// SendLocalSignal dispatches a one-way call. If the node is an alias, the
// name is first checked against the inbound allow-list; a name absent from
// the list is indistinguishable from a missing handler, so remote peers
// cannot probe an original's full capability set.
func (n *Node) SendLocalSignal(calling *Client, name string, msg Message) error {
	if alias, ok := n.alias.get(); ok {
		if !alias.info.allowsServerSignal(name) {
			return ErrSignalNotFound
		}
		original, err := alias.Original()
		if err != nil {
			return err
		}
		// Out-of-band resources never cross an alias boundary.
		return original.SendLocalSignal(calling, name, msg.DataOnly())
	}

	n.lk.Lock()
	signal, has := n.localSignals[name]
	n.lk.Unlock()
	if !has {
		return ErrSignalNotFound
	}
	n.countDispatch(MetricLoomSignalCount, LabelSignalName, name)
	if err := signal(n, calling, msg); err != nil {
		n.countDispatch(MetricLoomSignalErrorCount, LabelSignalName, name)
		return &SignalError{Signal: name, Message: err.Error()}
	}
	return nil
}

// ExecuteLocalMethod dispatches a request/response call. The response
// sender is completed exactly once per call: either by the handler, or
// immediately when resolution fails.
func (n *Node) ExecuteLocalMethod(calling *Client, name string, msg Message, response MethodResponseSender) {
	if alias, ok := n.alias.get(); ok {
		if !alias.info.allowsServerMethod(name) {
			response.SendError(ErrMethodNotFound)
			return
		}
		original, err := alias.Original()
		if err != nil {
			response.SendError(err)
			return
		}
		original.ExecuteLocalMethod(calling, name, msg.DataOnly(), response)
		return
	}

	n.lk.Lock()
	method, has := n.localMethods[name]
	n.lk.Unlock()
	if !has {
		response.SendError(ErrMethodNotFound)
		return
	}
	n.countDispatch(MetricLoomMethodCount, LabelMethodName, name)
	counted := NewMethodResponseSender(func(res MethodResult) {
		if res.Err != nil {
			n.countDispatch(MetricLoomMethodErrorCount, LabelMethodName, name)
		}
		response.Send(res)
	})
	method(n, calling, msg, counted)
}

// SendRemoteSignal fans a server-side event out: every alias of this node
// whose outbound allow-list contains the name receives a resource-stripped
// copy on its own client's channel, and the node's own channel (if any)
// receives the payload intact. Each observer is reached exactly once.
func (n *Node) SendRemoteSignal(name string, msg Message) error {
	for _, alias := range n.aliases.GetValidContents() {
		if !alias.info.allowsClientSignal(name) {
			continue
		}
		aliasNode := alias.node
		if aliasNode == nil || aliasNode.Destroyed() {
			continue
		}
		// Beware: out-of-band resources are not delivered to aliases.
		_ = aliasNode.SendRemoteSignal(name, msg.DataOnly())
	}
	if n.sender != nil {
		return n.sender.Signal(n.path, name, msg)
	}
	return nil
}

// ExecuteRemoteMethod issues a correlated request/response exchange over
// the node's own transport and blocks the calling goroutine until a
// matching response arrives or the transport reports failure. There is no
// built-in timeout; cancellation is tied to transport teardown and the
// caller's context.
func (n *Node) ExecuteRemoteMethod(ctx context.Context, name string, msg Message) (Message, error) {
	if n.sender == nil {
		return Message{}, ErrNoMessenger
	}
	return n.sender.Method(ctx, n.path, name, msg)
}

func (n *Node) countDispatch(key []string, lab TelemetryLabel, name string) {
	client := n.Client()
	if client == nil || client.server == nil {
		return
	}
	client.server.msink.IncrCounterWithLabels(key, 1.0, []metrics.Label{
		LabelNodePath.M(n.path),
		lab.M(name),
	})
}

func (n *Node) String() string {
	return fmt.Sprintf("Node(%s %s)", n.id, n.path)
}

// ExecuteRemoteMethodTyped serializes the input, runs the exchange and
// deserializes the response.
func ExecuteRemoteMethodTyped[In, Out any](ctx context.Context, node *Node, method string, input In, files []*os.File) (Out, []*os.File, error) {
	var out Out
	data, err := Serialize(input)
	if err != nil {
		return out, nil, err
	}
	res, err := node.ExecuteRemoteMethod(ctx, method, Message{Data: data, Files: files})
	if err != nil {
		return out, nil, err
	}
	if err := Deserialize(res.Data, &out); err != nil {
		return out, nil, err
	}
	return out, res.Files, nil
}
