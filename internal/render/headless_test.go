package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/vizlink/internal/protocol"
	"github.com/danmuck/vizlink/internal/stream"
	"github.com/danmuck/vizlink/internal/testutil/testlog"
)

func TestParseSceneConfig(t *testing.T) {
	sc, err := ParseSceneConfig(protocol.RenderConfig(`{"buffers":["pos"," ","pos","color"],"textures":["atlas"],"extra":1}`))
	require.NoError(t, err)
	require.Equal(t, []string{"pos", "color"}, sc.Buffers)
	require.Equal(t, []string{"atlas"}, sc.Textures)

	_, err = ParseSceneConfig(protocol.RenderConfig(`[1,2]`))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHeadlessRecordsFrames(t *testing.T) {
	at := time.Unix(1700000000, 0)
	h := Headless{Logger: testlog.Start(t), Now: func() time.Time { return at }}
	rs, err := h.Init(protocol.RenderConfig(`{"buffers":["pos"],"textures":["atlas"]}`))
	require.NoError(t, err)
	st := rs.(*State)
	require.Equal(t, []string{"pos"}, st.BufferNames())

	require.NoError(t, st.LoadBuffers(map[string][]byte{"pos": []byte("abcd")}))
	st.SetElements(map[string]int{"edges": 2})
	require.NoError(t, st.LoadTextures(map[string]stream.TextureBinding{
		"atlas": {TextureInfo: protocol.TextureInfo{Bytes: 4, Width: 2, Height: 2}, Data: []byte{1, 2, 3, 4}},
	}))
	require.NoError(t, st.Render("clientNewVbos"))

	frames := st.Frames()
	require.Len(t, frames, 1)
	require.Equal(t, "clientNewVbos", frames[0].Tag)
	require.Equal(t, map[string]int{"pos": 4}, frames[0].BufferBytes)
	require.Equal(t, [2]int{2, 2}, frames[0].TextureDims["atlas"])
	require.Equal(t, map[string]int{"edges": 2}, frames[0].Elements)
	require.Equal(t, at, frames[0].At)
	require.Contains(t, st.Summary(), "pos=4B")

	data, ok := st.Buffer("pos")
	require.True(t, ok)
	require.Equal(t, []byte("abcd"), data)
}

func TestHeadlessRejectsUnknownAndShort(t *testing.T) {
	rs, err := Headless{Logger: testlog.Start(t)}.Init(protocol.RenderConfig(`{"buffers":["pos"],"textures":["atlas"]}`))
	require.NoError(t, err)
	require.ErrorIs(t, rs.LoadBuffers(map[string][]byte{"other": nil}), ErrUnknownResource)
	err = rs.LoadTextures(map[string]stream.TextureBinding{
		"atlas": {TextureInfo: protocol.TextureInfo{Bytes: 8}, Data: []byte{1}},
	})
	require.ErrorIs(t, err, ErrShortTexture)
}
