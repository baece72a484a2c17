package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAudio(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	return path
}

func fixedRunner(out string, err error) commandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(out), err
	}
}

func TestFFprobeInspector_DurationSeconds(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		runner commandRunner
		want   int
	}{
		{name: "ffprobe duration rounds up", size: 1000, runner: fixedRunner("12.300000\n", nil), want: 13},
		{name: "whole seconds", size: 1000, runner: fixedRunner("60.000000", nil), want: 60},
		{name: "no duration falls back to size", size: 3 * 16384, runner: fixedRunner("N/A\n", nil), want: 3},
		{name: "ffprobe missing falls back to size", size: 16385, runner: fixedRunner("", errors.New("exec: not found")), want: 2},
		{name: "tiny file is one second", size: 10, runner: fixedRunner("", nil), want: 1},
		{name: "corrupt huge duration falls back to size", size: 2 * 16384, runner: fixedRunner("1e300\n", nil), want: 2},
		{name: "infinite duration falls back to size", size: 2 * 16384, runner: fixedRunner("+Inf", nil), want: 2},
		{name: "duration past the bound falls back to size", size: 16384, runner: fixedRunner("86400.5", nil), want: 1},
		{name: "negative duration falls back to size", size: 16384, runner: fixedRunner("-3.0", nil), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := NewFFprobeInspector("", nil)
			i.run = tt.runner

			got, err := i.DurationSeconds(context.Background(), writeAudio(t, tt.size))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFFprobeInspector_PassesPath(t *testing.T) {
	path := writeAudio(t, 100)
	i := NewFFprobeInspector("/usr/bin/ffprobe", nil)
	i.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "/usr/bin/ffprobe", name)
		assert.Equal(t, path, args[len(args)-1])
		assert.Contains(t, args, "format=duration")
		return []byte("4.2"), nil
	}

	got, err := i.DurationSeconds(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestFFprobeInspector_Errors(t *testing.T) {
	i := NewFFprobeInspector("", nil)
	i.run = fixedRunner("1.0", nil)

	_, err := i.DurationSeconds(context.Background(), writeAudio(t, 0))
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = i.DurationSeconds(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	assert.Error(t, err)
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
		wantErr     bool
	}{
		{contentType: "audio/mpeg", want: ".mp3"},
		{contentType: "audio/wav", want: ".wav"},
		{contentType: "audio/x-wav", want: ".wav"},
		{contentType: "audio/webm;codecs=opus", want: ".webm"},
		{contentType: "video/mp4", want: ".mp4"},
		{contentType: "image/png", wantErr: true},
		{contentType: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, err := ExtensionFor(tt.contentType)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeLiveAudio(t *testing.T) {
	raw := []byte("live audio bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeLiveAudio(encoded, 1024)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeLiveAudio("data:audio/webm;base64,"+encoded, 1024)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeLiveAudio(encoded, 4)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = DecodeLiveAudio("   ", 1024)
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = DecodeLiveAudio(strings.Repeat("!", 8), 1024)
	assert.Error(t, err)
}

func TestEstimateFromSize(t *testing.T) {
	assert.Equal(t, 1, EstimateFromSize(1))
	assert.Equal(t, 1, EstimateFromSize(16384))
	assert.Equal(t, 2, EstimateFromSize(16385))
}
