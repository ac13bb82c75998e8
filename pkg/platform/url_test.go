package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"youtu.be short link", "https://youtu.be/dQw4w9WgXcQ?si=abc123", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"mobile watch", "https://m.youtube.com/watch?v=dQw4w9WgXcQ&feature=share", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"watch with timestamp", "https://www.youtube.com/watch?t=42&v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"shorts kept as shorts", "https://youtube.com/shorts/abcDEF12345?feature=share", "https://www.youtube.com/shorts/abcDEF12345"},
		{"web tracking and fragment", "HTTPS://WWW.Example.com/recipes/pasta/?utm_source=x&b=2&a=1#comments", "https://www.example.com/recipes/pasta?a=1&b=2"},
		{"no scheme", "www.instagram.com/reel/Cxyz123/?igshid=abc", "https://www.instagram.com/reel/Cxyz123"},
		{"root path", "http://example.com/", "https://example.com"},
		{"tiktok", "https://www.tiktok.com/@chef/video/7301234567890?_r=1&_t=8abc", "https://www.tiktok.com/@chef/video/7301234567890"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	t.Parallel()
	first, err := Canonicalize("https://www.Example.com/a/?utm_medium=m&x=1")
	require.NoError(t, err)
	second, err := Canonicalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCanonicalize_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "ftp://example.com/file", "not a url", "https://localhost"} {
		_, err := Canonicalize(in)
		assert.ErrorIs(t, err, ErrInvalidURL, in)
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Platform
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", YouTube},
		{"https://youtu.be/dQw4w9WgXcQ", YouTube},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", YouTube},
		{"https://vm.tiktok.com/ZM123abc/", TikTok},
		{"https://www.instagram.com/p/Cabc/", Instagram},
		{"https://cooking.nytimes.com/recipes/1015819", Web},
		{"https://notyoutube.com/watch?v=1", Web},
	}
	for _, tt := range tests {
		got, err := Detect(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestYouTubeID(t *testing.T) {
	t.Parallel()

	id, short := YouTubeID("https://www.youtube.com/shorts/abcDEF12345")
	assert.Equal(t, "abcDEF12345", id)
	assert.True(t, short)

	id, short = YouTubeID("https://www.youtube.com/embed/dQw4w9WgXcQ")
	assert.Equal(t, "dQw4w9WgXcQ", id)
	assert.False(t, short)

	id, _ = YouTubeID("https://www.youtube.com/channel/UC123")
	assert.Empty(t, id)
}

func TestShortVideoID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		platform Platform
		url      string
		want     string
	}{
		{TikTok, "https://www.tiktok.com/@chef/video/7312345678901234567", "7312345678901234567"},
		{TikTok, "https://www.tiktok.com/@chef", ""},
		{Instagram, "https://www.instagram.com/reel/C1xYz_-9", "C1xYz_-9"},
		{Instagram, "https://www.instagram.com/p/Cabc123", "Cabc123"},
		{Instagram, "https://www.instagram.com/bakerbee/reel/Cq7", "Cq7"},
		{Instagram, "https://www.instagram.com/bakerbee", ""},
		{YouTube, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", ""},
		{TikTok, "not a url", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShortVideoID(tt.platform, tt.url), tt.url)
	}
}
