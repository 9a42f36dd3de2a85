package loom

import "slices"

// AliasInfo carries the four allow-lists scoping what crosses an alias.
// Server-bound lists filter what the alias's client may call on the
// original; client-bound lists filter what the original may push back out
// through the alias.
type AliasInfo struct {
	ServerSignals []string
	ServerMethods []string
	ClientSignals []string
	ClientMethods []string
}

func (info AliasInfo) allowsServerSignal(name string) bool {
	return slices.Contains(info.ServerSignals, name)
}

func (info AliasInfo) allowsServerMethod(name string) bool {
	return slices.Contains(info.ServerMethods, name)
}

func (info AliasInfo) allowsClientSignal(name string) bool {
	return slices.Contains(info.ClientSignals, name)
}

func (info AliasInfo) allowsClientMethod(name string) bool {
	return slices.Contains(info.ClientMethods, name)
}

// Alias is a capability-scoped proxy: a pair of non-owning references to
// the original node and to its own node identity. It performs no cleanup
// of either side; it only reports broken references once one is gone.
type Alias struct {
	original *Node
	node     *Node
	info     AliasInfo
}

// CreateAlias publishes a proxy node under parentPath/name on the granting
// client's scenegraph and registers it with the original so outbound
// fan-out can find it.
func CreateAlias(client *Client, parentPath, name string, original *Node, info AliasInfo) (*Node, error) {
	if original == nil || original.Destroyed() {
		return nil, ErrBrokenAlias
	}
	node, err := NewNode(client, parentPath, name, false).AddToScenegraph()
	if err != nil {
		return nil, err
	}
	alias := &Alias{
		original: original,
		node:     node,
		info:     info,
	}
	if err := node.alias.set(alias); err != nil {
		node.Destroy()
		return nil, err
	}
	original.aliases.Add(alias)
	return node, nil
}

// Original resolves the proxied node, or reports the broken reference.
func (a *Alias) Original() (*Node, error) {
	if a.original == nil || a.original.Destroyed() {
		return nil, ErrBrokenAlias
	}
	return a.original, nil
}

// Node returns the alias's own node identity, used to push notifications
// back out to the granted client.
func (a *Alias) Node() (*Node, error) {
	if a.node == nil || a.node.Destroyed() {
		return nil, ErrBrokenAlias
	}
	return a.node, nil
}

func (a *Alias) Info() AliasInfo {
	return a.info
}
