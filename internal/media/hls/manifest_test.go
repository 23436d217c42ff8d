package hls

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMediaPlaylist(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:10",
		"#EXTINF:9.5,",
		"seg1.ts",
		"#EXTINF:10.0,",
		"seg2.ts",
		"#EXTINF:4.25,",
		"https://other.cdn/seg3.ts",
		"#EXT-X-ENDLIST",
	}, "\n")

	base, _ := url.Parse("https://cdn.example/show/index.m3u8")
	m, err := ParseManifest(strings.NewReader(playlist), base)
	require.NoError(t, err)

	assert.False(t, m.Master)
	assert.InDelta(t, 23.75, m.Duration, 0.0001)
	assert.Equal(t, 10.0, m.TargetDur)
	require.Len(t, m.SegmentURIs, 3)
	assert.Equal(t, "https://cdn.example/show/seg1.ts", m.SegmentURIs[0])
	assert.Equal(t, "https://other.cdn/seg3.ts", m.SegmentURIs[2], "absolute URIs pass through")
}

func TestParseMasterPlaylist(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720",
		"720/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360",
		"360/index.m3u8",
	}, "\n")

	base, _ := url.Parse("https://cdn.example/show/master.m3u8")
	m, err := ParseManifest(strings.NewReader(playlist), base)
	require.NoError(t, err)

	assert.True(t, m.Master)
	assert.Equal(t, []string{
		"https://cdn.example/show/720/index.m3u8",
		"https://cdn.example/show/360/index.m3u8",
	}, m.VariantURIs)
	assert.Empty(t, m.SegmentURIs)
}

func TestParseRejectsNonPlaylist(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("<html>not found</html>"), nil)
	assert.Error(t, err)

	_, err = ParseManifest(strings.NewReader(""), nil)
	assert.Error(t, err)
}
