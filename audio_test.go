package loom

import (
	"testing"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/stretchr/testify/require"
)

func newSoundFixture(t *testing.T, c *Client, position v3.Vec) *Sound {
	t.Helper()
	node, err := NewNode(c, "/test", "chime", true).AddToScenegraph()
	require.NoError(t, err)
	_, err = AddSpatial(node, nil, Transform{Position: vecWire(position)}, false)
	require.NoError(t, err)
	sound, err := AddSound(node, "sfx/chime.wav")
	require.NoError(t, err)
	return sound
}

func TestSound_PlayStopResolvePerFrame(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)
	sound := newSoundFixture(t, c, v3.Vec{X: 2})

	require.False(t, sound.Playing())

	require.NoError(t, sound.node.SendLocalSignal(c, "play", Message{}))
	require.False(t, sound.Playing(), "requests only take effect on the next frame")

	srv.UpdateFrame(FrameContext{Frame: 1})
	require.True(t, sound.Playing())
	requireVecInDelta(t, v3.Vec{X: 2}, sound.Position(), 1e-9)

	require.NoError(t, sound.node.SendLocalSignal(c, "stop", Message{}))
	srv.UpdateFrame(FrameContext{Frame: 2})
	require.False(t, sound.Playing())
}

func TestSound_StopWinsOverPlayInSameFrame(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)
	sound := newSoundFixture(t, c, v3.Vec{})

	sound.Play()
	srv.UpdateFrame(FrameContext{Frame: 1})
	require.True(t, sound.Playing())

	// Both requests pending in one frame: the stop lands first, then the
	// play restarts playback deterministically.
	sound.Stop()
	sound.Play()
	srv.UpdateFrame(FrameContext{Frame: 2})
	require.True(t, sound.Playing())

	sound.Stop()
	srv.UpdateFrame(FrameContext{Frame: 3})
	require.False(t, sound.Playing())
}

func TestSound_PositionTracksSpatial(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)
	sound := newSoundFixture(t, c, v3.Vec{})

	srv.UpdateFrame(FrameContext{Frame: 1})
	requireVecInDelta(t, v3.Vec{}, sound.Position(), 1e-9)

	sound.spatial.SetLocalTransform(Transform{Position: &[3]float64{0, 3, 0}})
	srv.UpdateFrame(FrameContext{Frame: 2})
	requireVecInDelta(t, v3.Vec{Y: 3}, sound.Position(), 1e-9)
}

func TestSound_VolumeSignal(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)
	sound := newSoundFixture(t, c, v3.Vec{})

	require.Equal(t, 1.0, sound.Volume())
	require.NoError(t, sound.node.SendLocalSignal(c, "set_volume", MessageFrom(mustSerialize(t, 0.25))))
	require.Equal(t, 0.25, sound.Volume())
}

func TestSound_CreationInterface(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	err := c.Scenegraph().SendSignal("/audio", "create_sound", MessageFrom(mustSerialize(t, map[string]any{
		"name":     "ding",
		"resource": "sfx/ding.wav",
	})))
	require.NoError(t, err)

	node, err := c.FindNode("/audio/sound/ding")
	require.NoError(t, err)
	sound, ok := node.sound.get()
	require.True(t, ok)
	require.Equal(t, "sfx/ding.wav", sound.Resource())
	require.Equal(t, 1, srv.sounds.Len())

	node.Destroy()
	require.Equal(t, 0, srv.sounds.Len())
}
