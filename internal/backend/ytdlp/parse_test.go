package ytdlp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchOutput = `{
  "_type": "playlist",
  "id": "lofi",
  "title": "lofi",
  "entries": [
    {
      "_type": "url",
      "id": "jfKfPfyJRdk",
      "url": "https://www.youtube.com/watch?v=jfKfPfyJRdk",
      "title": "lofi hip hop radio",
      "channel": "Lofi Girl",
      "duration": null,
      "thumbnails": [
        {"url": "https://i.ytimg.com/vi/jfKfPfyJRdk/hqdefault.jpg?sqp=small", "width": 168, "height": 94},
        {"url": "https://i.ytimg.com/vi/jfKfPfyJRdk/hqdefault.jpg?sqp=large", "width": 336, "height": 188}
      ]
    },
    null,
    {
      "_type": "url",
      "id": "abc",
      "url": "https://www.youtube.com/watch?v=abc",
      "title": "Study beats",
      "uploader": "Someone",
      "duration": 213.0
    }
  ]
}`

func TestParseResolveOutput_Playlist(t *testing.T) {
	entries, err := parseResolveOutput([]byte(searchOutput), 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	first := entries[0]
	require.NotNil(t, first)
	assert.Equal(t, "jfKfPfyJRdk", first.ID)
	assert.Equal(t, "Lofi Girl", first.Uploader)
	assert.Nil(t, first.Duration)
	require.Len(t, first.Thumbnails, 2)
	assert.Equal(t, 336, first.Thumbnails[1].Width)

	assert.Nil(t, entries[1], "null entries are kept for the normalizer")

	third := entries[2]
	require.NotNil(t, third)
	assert.Equal(t, "Someone", third.Uploader)
	require.NotNil(t, third.Duration)
	assert.Equal(t, 213, *third.Duration)
}

func TestParseResolveOutput_Limit(t *testing.T) {
	entries, err := parseResolveOutput([]byte(searchOutput), 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestParseResolveOutput_SingleVideo(t *testing.T) {
	out := `{"id":"abc","title":"Song","webpage_url":"https://www.youtube.com/watch?v=abc","thumbnail":"https://i.ytimg.com/vi/abc/maxres.jpg","uploader":"Artist","duration":65,"duration_string":"1:05"}`

	entries, err := parseResolveOutput([]byte(out), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", e.WebpageURL)
	assert.Equal(t, "1:05", e.DurationString)
	require.Len(t, e.Thumbnails, 1)
	assert.Equal(t, "https://i.ytimg.com/vi/abc/maxres.jpg", e.Thumbnails[0].URL)
}

func TestParseResolveOutput_EmptyPlaylist(t *testing.T) {
	entries, err := parseResolveOutput([]byte(`{"_type":"playlist","entries":[]}`), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseResolveOutput_Invalid(t *testing.T) {
	_, err := parseResolveOutput([]byte("   "), 10)
	require.Error(t, err)

	_, err = parseResolveOutput([]byte("not json"), 10)
	require.Error(t, err)
}

func TestParseAcquireOutput(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{
			name: "filename",
			out:  `{"id":"abc","filename":"/w/job/song.webm","_filename":"/w/job/song.webm"}`,
			want: "/w/job/song.webm",
		},
		{
			name: "legacy filename",
			out:  `{"id":"abc","_filename":"/w/job/clip.mp4"}`,
			want: "/w/job/clip.mp4",
		},
		{
			name: "noise around json",
			out:  "[youtube] abc: Downloading webpage\n{\"filename\":\"/w/job/a.m4a\"}\n[ExtractAudio] Destination: /w/job/a.mp3\n",
			want: "/w/job/a.m4a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAcquireOutput([]byte(tt.out))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAcquireOutput_Missing(t *testing.T) {
	_, err := parseAcquireOutput([]byte("[download] 100%\n"))
	require.Error(t, err)

	_, err = parseAcquireOutput([]byte(`{"id":"abc"}`))
	require.Error(t, err)
}

func TestErrorDetail(t *testing.T) {
	stderr := "WARNING: something\nERROR: [youtube] abc: Video unavailable\n"
	assert.Equal(t, "[youtube] abc: Video unavailable", errorDetail(stderr, errors.New("exit status 1")))

	assert.Equal(t, "plain failure", errorDetail("plain failure\n", errors.New("exit status 1")))
	assert.Equal(t, "exit status 1", errorDetail("", errors.New("exit status 1")))
	assert.Equal(t, "unknown yt-dlp failure", errorDetail("", nil))
}
