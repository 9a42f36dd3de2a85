package loom

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// Client is one connected object space: a scenegraph plus the message
// sender used to reach the remote endpoint. Server-internal clients have a
// nil sender; their nodes cannot emit or receive remote traffic.
type Client struct {
	id     string
	server *Server
	sender MessageSender
	sg     *Scenegraph
	logger *slog.Logger
	dead   atomic.Bool
}

func newClient(srv *Server, sender MessageSender) *Client {
	c := &Client{
		id:     uuid.NewString(),
		server: srv,
		sender: sender,
	}
	c.logger = srv.logger.With(LabelClientID.L(c.id))
	c.sg = newScenegraph(c)
	c.setupInterfaces()
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Server() *Server {
	return c.server
}

func (c *Client) Scenegraph() *Scenegraph {
	return c.sg
}

// setupInterfaces publishes the creation surface every client starts with.
func (c *Client) setupInterfaces() {
	addSpatialInterface(c)
	addFieldInterface(c)
	addDataInterface(c)
	addAudioInterface(c)
	addInputInterface(c)
	addItemInterface(c)
}

// Close tears the object space down: every node is destroyed (releasing
// zone captures on the way) and the client stops resolving.
func (c *Client) Close() {
	if !c.dead.CompareAndSwap(false, true) {
		return
	}
	c.sg.clear()
	c.server.dropClient(c)
	c.logger.Debug("client closed")
}

// FindNode resolves a path in this client's object space.
func (c *Client) FindNode(path string) (*Node, error) {
	node, has := c.sg.GetNode(path)
	if !has {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// FindSpatial resolves a path to a node carrying a spatial aspect.
func (c *Client) FindSpatial(path string) (*Spatial, error) {
	node, err := c.FindNode(path)
	if err != nil {
		return nil, err
	}
	spatial, has := node.Spatial()
	if !has {
		return nil, ErrAspectMissing
	}
	return spatial, nil
}

// FindField resolves a path to a node carrying a field aspect.
func (c *Client) FindField(path string) (Field, error) {
	node, err := c.FindNode(path)
	if err != nil {
		return nil, err
	}
	field, has := node.Field()
	if !has {
		return nil, ErrAspectMissing
	}
	return field, nil
}
