package loom

import (
	"sync"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Sound is a spatialized audio emitter. Playback itself runs in an
// external engine; this aspect only tracks the requested state and the
// world-space position the engine should render from, resolved once per
// frame so play/stop requests racing a frame never interleave.
type Sound struct {
	node     *Node
	spatial  *Spatial
	resource string

	volume atomicFloat64

	lk          sync.Mutex
	pendingPlay bool
	pendingStop bool
	playing     bool
	position    v3.Vec
}

// AddSound attaches a sound aspect pointing at an audio resource. The
// node must already carry a spatial.
func AddSound(node *Node, resource string) (*Sound, error) {
	spatial, ok := node.Spatial()
	if !ok {
		return nil, ErrAspectMissing
	}
	s := &Sound{
		node:     node,
		spatial:  spatial,
		resource: resource,
	}
	s.volume.Store(1.0)
	if err := node.sound.set(s); err != nil {
		return nil, err
	}
	node.AddLocalSignal("play", func(node *Node, _ *Client, _ Message) error {
		sound, _ := node.sound.get()
		sound.Play()
		return nil
	})
	node.AddLocalSignal("stop", func(node *Node, _ *Client, _ Message) error {
		sound, _ := node.sound.get()
		sound.Stop()
		return nil
	})
	node.AddLocalSignal("set_volume", func(node *Node, _ *Client, msg Message) error {
		var volume float64
		if err := Deserialize(msg.Data, &volume); err != nil {
			return err
		}
		sound, _ := node.sound.get()
		sound.volume.Store(volume)
		return nil
	})
	spatial.server.sounds.Add(s)
	return s, nil
}

func (s *Sound) Resource() string {
	return s.resource
}

func (s *Sound) Volume() float64 {
	return s.volume.Load()
}

// Play requests playback. Takes effect on the next frame.
func (s *Sound) Play() {
	s.lk.Lock()
	s.pendingPlay = true
	s.lk.Unlock()
}

// Stop requests a halt. Takes effect on the next frame, before any
// pending play is applied.
func (s *Sound) Stop() {
	s.lk.Lock()
	s.pendingStop = true
	s.lk.Unlock()
}

func (s *Sound) Playing() bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.playing
}

// Position reports the world-space emitter position as of the last frame.
func (s *Sound) Position() v3.Vec {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.position
}

func (s *Sound) update(_ FrameContext) {
	position := s.spatial.GlobalTransform().MulPosition(v3.Vec{})
	s.lk.Lock()
	if s.pendingStop {
		s.pendingStop = false
		s.playing = false
	}
	if s.pendingPlay {
		s.pendingPlay = false
		s.playing = true
	}
	s.position = position
	s.lk.Unlock()
}

func (s *Sound) teardown() {
	s.Stop()
	s.spatial.server.sounds.Remove(s)
}

func addAudioInterface(c *Client) {
	node, err := NewNodeAtPath(c, "/audio", false).AddToScenegraph()
	if err != nil {
		return
	}
	node.AddLocalSignal("create_sound", createSoundHandler)
}

func createSoundHandler(_ *Node, calling *Client, msg Message) error {
	var info struct {
		Name       string    `json:"name"`
		ParentPath string    `json:"parent_path"`
		Transform  Transform `json:"transform"`
		Resource   string    `json:"resource"`
	}
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	if !ValidateNodeName(info.Name) {
		return ErrNameInvalid
	}
	var parent *Spatial
	if info.ParentPath != "" {
		var err error
		parent, err = calling.FindSpatial(info.ParentPath)
		if err != nil {
			return err
		}
	}
	node, err := NewNode(calling, "/audio/sound", info.Name, true).AddToScenegraph()
	if err != nil {
		return err
	}
	if _, err := AddSpatial(node, parent, info.Transform, false); err != nil {
		node.Destroy()
		return err
	}
	if _, err := AddSound(node, info.Resource); err != nil {
		node.Destroy()
		return err
	}
	return nil
}
