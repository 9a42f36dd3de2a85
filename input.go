package loom

import (
	"math"
	"sync"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// InputMethod is a pointing device in the scene: a spatial pose plus a
// free-form datamap describing device state. Each frame it is routed to
// the closest input handler's client.
type InputMethod struct {
	node    *Node
	spatial *Spatial

	lk      sync.Mutex
	datamap map[string]any
}

// InputHandler receives routed input. Its field defines the volume input
// is measured against.
type InputHandler struct {
	node    *Node
	spatial *Spatial
	field   Field
}

type inputEvent struct {
	Method   string         `json:"method"`
	Distance float64        `json:"distance"`
	Datamap  map[string]any `json:"datamap"`
}

func AddInputMethod(node *Node, datamap map[string]any) (*InputMethod, error) {
	spatial, ok := node.Spatial()
	if !ok {
		return nil, ErrAspectMissing
	}
	im := &InputMethod{node: node, spatial: spatial, datamap: datamap}
	if err := node.inputMethod.set(im); err != nil {
		return nil, err
	}
	node.AddLocalSignal("set_datamap", func(node *Node, _ *Client, msg Message) error {
		var datamap map[string]any
		if err := Deserialize(msg.Data, &datamap); err != nil {
			return err
		}
		method, _ := node.inputMethod.get()
		method.SetDatamap(datamap)
		return nil
	})
	spatial.server.inputMethods.Add(im)
	return im, nil
}

func (im *InputMethod) Datamap() map[string]any {
	im.lk.Lock()
	defer im.lk.Unlock()
	return im.datamap
}

func (im *InputMethod) SetDatamap(datamap map[string]any) {
	im.lk.Lock()
	im.datamap = datamap
	im.lk.Unlock()
}

// DistanceTo measures the signed distance from this method's origin to a
// handler's field.
func (im *InputMethod) DistanceTo(handler *InputHandler) float64 {
	if handler.field.Spatial().Node().Destroyed() {
		return math.Inf(1)
	}
	return FieldDistance(handler.field, im.spatial, v3.Vec{})
}

func (im *InputMethod) teardown() {
	im.spatial.server.inputMethods.Remove(im)
}

func AddInputHandler(node *Node, field Field) (*InputHandler, error) {
	spatial, ok := node.Spatial()
	if !ok {
		return nil, ErrAspectMissing
	}
	ih := &InputHandler{node: node, spatial: spatial, field: field}
	if err := node.inputHandler.set(ih); err != nil {
		return nil, err
	}
	spatial.server.inputHandlers.Add(ih)
	return ih, nil
}

func (ih *InputHandler) teardown() {
	ih.spatial.server.inputHandlers.Remove(ih)
}

// distributeInput routes every live input method to the single closest
// handler (by absolute signed distance). Ties keep the first handler in
// snapshot order so routing is stable within a frame.
func distributeInput(srv *Server) {
	handlers := srv.inputHandlers.GetValidContents()
	for _, method := range srv.inputMethods.GetValidContents() {
		if method.node.Destroyed() {
			continue
		}
		var closest *InputHandler
		best := math.Inf(1)
		for _, handler := range handlers {
			if handler.node.Destroyed() {
				continue
			}
			d := math.Abs(method.DistanceTo(handler))
			if d < best {
				best = d
				closest = handler
			}
		}
		if closest == nil {
			continue
		}
		data, err := Serialize(inputEvent{
			Method:   method.node.Path(),
			Distance: method.DistanceTo(closest),
			Datamap:  method.Datamap(),
		})
		if err != nil {
			continue
		}
		_ = closest.node.SendRemoteSignal("input", MessageFrom(data))
	}
}

func addInputInterface(c *Client) {
	node, err := NewNodeAtPath(c, "/input", false).AddToScenegraph()
	if err != nil {
		return
	}
	node.AddLocalSignal("create_input_method", createInputMethodHandler)
	node.AddLocalSignal("create_input_handler", createInputHandlerHandler)
}

func createInputMethodHandler(_ *Node, calling *Client, msg Message) error {
	var info struct {
		Name       string         `json:"name"`
		ParentPath string         `json:"parent_path"`
		Transform  Transform      `json:"transform"`
		Datamap    map[string]any `json:"datamap"`
	}
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	node, err := newInputNode(calling, "/input/method", info.Name, info.ParentPath, info.Transform)
	if err != nil {
		return err
	}
	if _, err := AddInputMethod(node, info.Datamap); err != nil {
		node.Destroy()
		return err
	}
	return nil
}

func createInputHandlerHandler(_ *Node, calling *Client, msg Message) error {
	var info struct {
		Name       string    `json:"name"`
		ParentPath string    `json:"parent_path"`
		Transform  Transform `json:"transform"`
		FieldPath  string    `json:"field_path"`
	}
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	field, err := calling.FindField(info.FieldPath)
	if err != nil {
		return err
	}
	node, err := newInputNode(calling, "/input/handler", info.Name, info.ParentPath, info.Transform)
	if err != nil {
		return err
	}
	if _, err := AddInputHandler(node, field); err != nil {
		node.Destroy()
		return err
	}
	return nil
}

func newInputNode(calling *Client, parent, name, parentPath string, transform Transform) (*Node, error) {
	if !ValidateNodeName(name) {
		return nil, ErrNameInvalid
	}
	var parentSpatial *Spatial
	if parentPath != "" {
		var err error
		parentSpatial, err = calling.FindSpatial(parentPath)
		if err != nil {
			return nil, err
		}
	}
	node, err := NewNode(calling, parent, name, true).AddToScenegraph()
	if err != nil {
		return nil, err
	}
	if _, err := AddSpatial(node, parentSpatial, transform, false); err != nil {
		node.Destroy()
		return nil, err
	}
	return node, nil
}
