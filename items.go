package loom

import "sync"

// itemAliasInfo is the surface an item exposes through UI projections.
var itemAliasInfo = AliasInfo{
	ServerSignals: []string{
		"set_transform",
		"set_spatial_parent",
		"set_spatial_parent_in_place",
	},
	ServerMethods: []string{"get_bounds", "get_transform"},
}

// Item is a typed, transferable scene object. Items of a kind are
// projected as aliases into every UI registered for that kind, and can be
// captured by a matching acceptor.
type Item struct {
	node    *Node
	spatial *Spatial
	kind    string

	lk        sync.Mutex
	acceptor  *ItemAcceptor
	oldParent *Spatial
}

// ItemAcceptor holds captured items of one kind inside a field volume.
type ItemAcceptor struct {
	node    *Node
	spatial *Spatial
	field   Field
	kind    string

	items *Registry[Item]
}

// ItemUI is a client-side presenter for all items of one kind. It
// receives an alias per live item plus create/destroy notifications.
type ItemUI struct {
	node *Node
	kind string

	lk      sync.Mutex
	aliases map[string]*Node
}

func AddItem(node *Node, kind string) (*Item, error) {
	spatial, ok := node.Spatial()
	if !ok {
		return nil, ErrAspectMissing
	}
	it := &Item{node: node, spatial: spatial, kind: kind}
	if err := node.item.set(it); err != nil {
		return nil, err
	}
	srv := spatial.server
	srv.items.Add(it)
	for _, ui := range srv.itemUIs.GetValidContents() {
		ui.presentItem(it)
	}
	return it, nil
}

func (it *Item) Kind() string {
	return it.kind
}

// Acceptor reports which acceptor currently holds this item, nil when
// free.
func (it *Item) Acceptor() *ItemAcceptor {
	it.lk.Lock()
	defer it.lk.Unlock()
	return it.acceptor
}

func (it *Item) teardown() {
	releaseItem(it)
	srv := it.spatial.server
	srv.items.Remove(it)
	for _, ui := range srv.itemUIs.GetValidContents() {
		ui.retractItem(it)
	}
}

// captureItem moves an item into an acceptor, snapshotting its parent the
// same way zone capture does. An item held elsewhere is released first.
// Fails without side effects when the acceptor sits under the item itself.
func captureItem(it *Item, acceptor *ItemAcceptor) error {
	releaseItem(it)

	it.spatial.lk.Lock()
	oldParent := it.spatial.parent
	it.spatial.lk.Unlock()
	if err := it.spatial.SetParentInPlace(acceptor.spatial); err != nil {
		return err
	}

	it.lk.Lock()
	it.oldParent = oldParent
	it.acceptor = acceptor
	it.lk.Unlock()

	acceptor.items.Add(it)
	acceptor.notify("capture_item", it.node.ID())
	return nil
}

// releaseItem restores the snapshotted parent in place and detaches the
// item from its acceptor. No-op for a free item.
func releaseItem(it *Item) {
	it.lk.Lock()
	acceptor := it.acceptor
	it.acceptor = nil
	oldParent := it.oldParent
	it.oldParent = nil
	it.lk.Unlock()

	if acceptor == nil {
		return
	}
	if err := it.spatial.SetParentInPlace(oldParent); err != nil {
		_ = it.spatial.SetParentInPlace(nil)
	}
	acceptor.items.Remove(it)
	acceptor.notify("release_item", it.node.ID())
}

func AddItemAcceptor(node *Node, field Field, kind string) (*ItemAcceptor, error) {
	spatial, ok := node.Spatial()
	if !ok {
		return nil, ErrAspectMissing
	}
	a := &ItemAcceptor{
		node:    node,
		spatial: spatial,
		field:   field,
		kind:    kind,
		items:   NewRegistry[Item](),
	}
	if err := node.itemAcceptor.set(a); err != nil {
		return nil, err
	}
	node.AddLocalSignal("capture_item", func(node *Node, calling *Client, msg Message) error {
		acceptor, _ := node.itemAcceptor.get()
		return acceptor.handleCapture(calling, msg)
	})
	node.AddLocalSignal("release_item", func(_ *Node, calling *Client, msg Message) error {
		item, err := resolveItem(calling, msg)
		if err != nil {
			return err
		}
		releaseItem(item)
		return nil
	})
	spatial.server.itemAcceptors.Add(a)
	return a, nil
}

func (a *ItemAcceptor) Kind() string {
	return a.kind
}

// Items returns a snapshot of the items this acceptor currently holds.
func (a *ItemAcceptor) Items() []*Item {
	return a.items.GetValidContents()
}

func (a *ItemAcceptor) handleCapture(calling *Client, msg Message) error {
	item, err := resolveItem(calling, msg)
	if err != nil {
		return err
	}
	if item.kind != a.kind {
		return ErrAspectMissing
	}
	return captureItem(item, a)
}

func (a *ItemAcceptor) notify(signal, id string) {
	if a.node.Destroyed() {
		return
	}
	data, err := Serialize(id)
	if err != nil {
		return
	}
	_ = a.node.SendRemoteSignal(signal, MessageFrom(data))
}

func (a *ItemAcceptor) teardown() {
	for _, item := range a.items.GetValidContents() {
		releaseItem(item)
	}
	a.spatial.server.itemAcceptors.Remove(a)
}

func resolveItem(calling *Client, msg Message) (*Item, error) {
	var path string
	if err := Deserialize(msg.Data, &path); err != nil {
		return nil, err
	}
	node, err := calling.FindNode(path)
	if err != nil {
		return nil, err
	}
	item, ok := node.item.get()
	if !ok {
		return nil, ErrAspectMissing
	}
	return item, nil
}

// RegisterItemUI attaches an item presenter for one kind and immediately
// projects every existing item of that kind into it.
func RegisterItemUI(node *Node, kind string) (*ItemUI, error) {
	ui := &ItemUI{node: node, kind: kind, aliases: make(map[string]*Node)}
	if err := node.itemUI.set(ui); err != nil {
		return nil, err
	}
	client := node.Client()
	if client == nil {
		return nil, ErrClientGone
	}
	srv := client.server
	srv.itemUIs.Add(ui)
	for _, item := range srv.items.GetValidContents() {
		ui.presentItem(item)
	}
	return ui, nil
}

func (ui *ItemUI) presentItem(it *Item) {
	if it.kind != ui.kind || ui.node.Destroyed() {
		return
	}
	client := ui.node.Client()
	if client == nil {
		return
	}
	aliasNode, err := CreateAlias(client, ui.node.Path(), it.node.ID(), it.node, itemAliasInfo)
	if err != nil {
		return
	}
	ui.lk.Lock()
	ui.aliases[it.node.ID()] = aliasNode
	ui.lk.Unlock()
	data, err := Serialize(it.node.ID())
	if err != nil {
		return
	}
	_ = ui.node.SendRemoteSignal("create_item", MessageFrom(data))
}

func (ui *ItemUI) retractItem(it *Item) {
	if it.kind != ui.kind {
		return
	}
	ui.lk.Lock()
	aliasNode, ok := ui.aliases[it.node.ID()]
	delete(ui.aliases, it.node.ID())
	ui.lk.Unlock()
	if !ok {
		return
	}
	aliasNode.Destroy()
	data, err := Serialize(it.node.ID())
	if err != nil {
		return
	}
	_ = ui.node.SendRemoteSignal("destroy_item", MessageFrom(data))
}

func (ui *ItemUI) teardown() {
	client := ui.node.Client()
	if client != nil {
		client.server.itemUIs.Remove(ui)
	}
	ui.lk.Lock()
	aliases := ui.aliases
	ui.aliases = make(map[string]*Node)
	ui.lk.Unlock()
	for _, aliasNode := range aliases {
		aliasNode.Destroy()
	}
}

func addItemInterface(c *Client) {
	node, err := NewNodeAtPath(c, "/item", false).AddToScenegraph()
	if err != nil {
		return
	}
	node.AddLocalSignal("create_item", createItemHandler)
	node.AddLocalSignal("create_item_acceptor", createItemAcceptorHandler)
	node.AddLocalSignal("register_item_ui", registerItemUIHandler)
}

func createItemHandler(_ *Node, calling *Client, msg Message) error {
	var info struct {
		Name       string    `json:"name"`
		ParentPath string    `json:"parent_path"`
		Transform  Transform `json:"transform"`
		Kind       string    `json:"kind"`
	}
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	node, err := newInputNode(calling, "/item/item", info.Name, info.ParentPath, info.Transform)
	if err != nil {
		return err
	}
	if _, err := AddItem(node, info.Kind); err != nil {
		node.Destroy()
		return err
	}
	return nil
}

func createItemAcceptorHandler(_ *Node, calling *Client, msg Message) error {
	var info struct {
		Name       string    `json:"name"`
		ParentPath string    `json:"parent_path"`
		Transform  Transform `json:"transform"`
		FieldPath  string    `json:"field_path"`
		Kind       string    `json:"kind"`
	}
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	field, err := calling.FindField(info.FieldPath)
	if err != nil {
		return err
	}
	node, err := newInputNode(calling, "/item/acceptor", info.Name, info.ParentPath, info.Transform)
	if err != nil {
		return err
	}
	if _, err := AddItemAcceptor(node, field, info.Kind); err != nil {
		node.Destroy()
		return err
	}
	return nil
}

func registerItemUIHandler(_ *Node, calling *Client, msg Message) error {
	var info struct {
		Kind string `json:"kind"`
	}
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	if !ValidateNodeName(info.Kind) {
		return ErrNameInvalid
	}
	node, err := NewNode(calling, "/item/ui", info.Kind, true).AddToScenegraph()
	if err != nil {
		return err
	}
	if _, err := RegisterItemUI(node, info.Kind); err != nil {
		node.Destroy()
		return err
	}
	return nil
}
