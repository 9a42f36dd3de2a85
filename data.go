package loom

import (
	"reflect"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// maskMatches reports whether every key in mask is present in data with a
// deep-equal value. An empty mask matches everything.
func maskMatches(mask, data map[string]any) bool {
	for key, want := range mask {
		got, ok := data[key]
		if !ok || !reflect.DeepEqual(want, got) {
			return false
		}
	}
	return true
}

// PulseSender emits structured datamaps to receivers whose declared mask
// the datamap satisfies.
type PulseSender struct {
	node    *Node
	spatial *Spatial
	mask    map[string]any
}

// PulseReceiver accepts datamaps matching its mask, scoped by a field
// volume so senders can rank receivers by proximity.
type PulseReceiver struct {
	node    *Node
	spatial *Spatial
	field   Field
	mask    map[string]any
}

type pulseReceiverInfo struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`
	Distance float64 `json:"distance"`
}

func AddPulseSender(node *Node, mask map[string]any) (*PulseSender, error) {
	spatial, ok := node.Spatial()
	if !ok {
		return nil, ErrAspectMissing
	}
	ps := &PulseSender{node: node, spatial: spatial, mask: mask}
	if err := node.pulseSender.set(ps); err != nil {
		return nil, err
	}
	node.AddLocalSignal("send_data", func(node *Node, calling *Client, msg Message) error {
		sender, _ := node.pulseSender.get()
		return sender.sendData(calling, msg)
	})
	node.AddLocalMethod("get_receivers", func(node *Node, _ *Client, _ Message, response MethodResponseSender) {
		sender, _ := node.pulseSender.get()
		data, err := Serialize(sender.Receivers())
		if err != nil {
			response.SendError(err)
			return
		}
		response.Send(MethodResult{Data: data})
	})
	spatial.server.pulseSenders.Add(ps)
	return ps, nil
}

func (ps *PulseSender) Mask() map[string]any {
	return ps.mask
}

// Receivers lists receivers whose mask is satisfied by this sender's
// mask, with the signed distance from the sender to each receiver's
// field.
func (ps *PulseSender) Receivers() []pulseReceiverInfo {
	receivers := ps.spatial.server.pulseReceivers.GetValidContents()
	out := make([]pulseReceiverInfo, 0, len(receivers))
	for _, pr := range receivers {
		if pr.node.Destroyed() || !maskMatches(pr.mask, ps.mask) {
			continue
		}
		distance := FieldDistance(pr.field, ps.spatial, v3.Vec{})
		out = append(out, pulseReceiverInfo{
			ID:       pr.node.ID(),
			Path:     pr.node.Path(),
			Distance: distance,
		})
	}
	return out
}

func (ps *PulseSender) sendData(calling *Client, msg Message) error {
	var payload struct {
		Receiver string         `json:"receiver"`
		Data     map[string]any `json:"data"`
	}
	if err := Deserialize(msg.Data, &payload); err != nil {
		return err
	}
	receiverNode, err := calling.FindNode(payload.Receiver)
	if err != nil {
		return err
	}
	receiver, ok := receiverNode.pulseReceiver.get()
	if !ok {
		return ErrAspectMissing
	}
	if !maskMatches(receiver.mask, payload.Data) {
		return nil
	}
	data, err := Serialize(struct {
		Sender string         `json:"sender"`
		Data   map[string]any `json:"data"`
	}{Sender: ps.node.Path(), Data: payload.Data})
	if err != nil {
		return err
	}
	return receiverNode.SendRemoteSignal("data", MessageFrom(data))
}

func (ps *PulseSender) teardown() {
	ps.spatial.server.pulseSenders.Remove(ps)
}

func AddPulseReceiver(node *Node, field Field, mask map[string]any) (*PulseReceiver, error) {
	spatial, ok := node.Spatial()
	if !ok {
		return nil, ErrAspectMissing
	}
	pr := &PulseReceiver{node: node, spatial: spatial, field: field, mask: mask}
	if err := node.pulseReceiver.set(pr); err != nil {
		return nil, err
	}
	spatial.server.pulseReceivers.Add(pr)
	return pr, nil
}

func (pr *PulseReceiver) Mask() map[string]any {
	return pr.mask
}

func (pr *PulseReceiver) teardown() {
	pr.spatial.server.pulseReceivers.Remove(pr)
}

func addDataInterface(c *Client) {
	node, err := NewNodeAtPath(c, "/data", false).AddToScenegraph()
	if err != nil {
		return
	}
	node.AddLocalSignal("create_pulse_sender", createPulseSenderHandler)
	node.AddLocalSignal("create_pulse_receiver", createPulseReceiverHandler)
}

type createPulseInfo struct {
	Name       string         `json:"name"`
	ParentPath string         `json:"parent_path"`
	Transform  Transform      `json:"transform"`
	FieldPath  string         `json:"field_path,omitempty"`
	Mask       map[string]any `json:"mask"`
}

func newPulseNode(calling *Client, parent string, info createPulseInfo) (*Node, error) {
	if !ValidateNodeName(info.Name) {
		return nil, ErrNameInvalid
	}
	var parentSpatial *Spatial
	if info.ParentPath != "" {
		var err error
		parentSpatial, err = calling.FindSpatial(info.ParentPath)
		if err != nil {
			return nil, err
		}
	}
	node, err := NewNode(calling, parent, info.Name, true).AddToScenegraph()
	if err != nil {
		return nil, err
	}
	if _, err := AddSpatial(node, parentSpatial, info.Transform, false); err != nil {
		node.Destroy()
		return nil, err
	}
	return node, nil
}

func createPulseSenderHandler(_ *Node, calling *Client, msg Message) error {
	var info createPulseInfo
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	node, err := newPulseNode(calling, "/data/sender", info)
	if err != nil {
		return err
	}
	if _, err := AddPulseSender(node, info.Mask); err != nil {
		node.Destroy()
		return err
	}
	return nil
}

func createPulseReceiverHandler(_ *Node, calling *Client, msg Message) error {
	var info createPulseInfo
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	field, err := calling.FindField(info.FieldPath)
	if err != nil {
		return err
	}
	node, err := newPulseNode(calling, "/data/receiver", info)
	if err != nil {
		return err
	}
	if _, err := AddPulseReceiver(node, field, info.Mask); err != nil {
		node.Destroy()
		return err
	}
	return nil
}
