package loom

import (
	"sync"

	"github.com/hashicorp/go-metrics"
)

// Scenegraph is a client's object space: the only owning reference to each
// node, keyed by path. Every other edge in the kernel (alias to original,
// spatial to zone, zone to field) is non-owning and resolves to "gone"
// after the scenegraph drops a node.
type Scenegraph struct {
	client *Client
	lk     sync.RWMutex
	nodes  map[string]*Node
}

func newScenegraph(client *Client) *Scenegraph {
	return &Scenegraph{
		client: client,
		nodes:  make(map[string]*Node),
	}
}

// AddNode publishes a node. Paths are unique within the client's object
// space; publishing over an occupied path fails without touching the
// incumbent.
func (sg *Scenegraph) AddNode(node *Node) (*Node, error) {
	sg.lk.Lock()
	defer sg.lk.Unlock()
	if _, taken := sg.nodes[node.path]; taken {
		return nil, ErrPathTaken
	}
	sg.nodes[node.path] = node
	if sg.client != nil && sg.client.server != nil {
		sg.client.server.msink.SetGaugeWithLabels(MetricLoomNodeCount,
			float32(len(sg.nodes)), []metrics.Label{LabelClientID.M(sg.client.id)})
	}
	return node, nil
}

// RemoveNode drops the owning reference. Idempotent.
func (sg *Scenegraph) RemoveNode(path string) {
	sg.lk.Lock()
	node, has := sg.nodes[path]
	delete(sg.nodes, path)
	if has && sg.client != nil && sg.client.server != nil {
		sg.client.server.msink.SetGaugeWithLabels(MetricLoomNodeCount,
			float32(len(sg.nodes)), []metrics.Label{LabelClientID.M(sg.client.id)})
	}
	sg.lk.Unlock()
	if has && !node.Destroyed() {
		node.Destroy()
	}
}

func (sg *Scenegraph) GetNode(path string) (*Node, bool) {
	sg.lk.RLock()
	defer sg.lk.RUnlock()
	node, has := sg.nodes[path]
	return node, has
}

func (sg *Scenegraph) Len() int {
	sg.lk.RLock()
	defer sg.lk.RUnlock()
	return len(sg.nodes)
}

// SendSignal resolves a path and dispatches a one-way call on behalf of
// the owning client.
func (sg *Scenegraph) SendSignal(path, name string, msg Message) error {
	node, has := sg.GetNode(path)
	if !has {
		return ErrNodeNotFound
	}
	return node.SendLocalSignal(sg.client, name, msg)
}

// ExecuteMethod resolves a path and dispatches a request/response call.
// The response sender is always completed exactly once.
func (sg *Scenegraph) ExecuteMethod(path, name string, msg Message, response MethodResponseSender) {
	node, has := sg.GetNode(path)
	if !has {
		response.SendError(ErrNodeNotFound)
		return
	}
	node.ExecuteLocalMethod(sg.client, name, msg, response)
}

func (sg *Scenegraph) clear() {
	sg.lk.Lock()
	nodes := make([]*Node, 0, len(sg.nodes))
	for _, node := range sg.nodes {
		nodes = append(nodes, node)
	}
	clear(sg.nodes)
	sg.lk.Unlock()
	for _, node := range nodes {
		node.Destroy()
	}
}
