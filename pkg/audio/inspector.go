package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/platinummonkey/voxnote/pkg/observability"
)

// fallbackBytesPerSecond approximates a 128 kbit/s stream
const fallbackBytesPerSecond = 16 * 1024

// maxReportedSeconds bounds a container duration before it is trusted. A
// longer header value is corrupt and the size estimate is used instead.
const maxReportedSeconds = 24 * 60 * 60

// ErrEmptyAudio is returned for a zero-length recording
var ErrEmptyAudio = errors.New("audio is empty")

// Inspector measures recordings
type Inspector interface {
	DurationSeconds(ctx context.Context, path string) (int, error)
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FFprobeInspector reads the container duration with ffprobe. When ffprobe
// is unavailable or reports no duration the length is estimated from the
// file size.
type FFprobeInspector struct {
	binary string
	run    commandRunner
	logger *observability.Logger
}

// NewFFprobeInspector creates an inspector using the ffprobe binary at path
func NewFFprobeInspector(binary string, logger *observability.Logger) *FFprobeInspector {
	if binary == "" {
		binary = "ffprobe"
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &FFprobeInspector{binary: binary, run: execRunner, logger: logger}
}

// DurationSeconds returns the recording length rounded up to whole seconds,
// never less than one for a non-empty file
func (i *FFprobeInspector) DurationSeconds(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat audio: %w", err)
	}
	if info.Size() == 0 {
		return 0, ErrEmptyAudio
	}

	out, err := i.run(ctx, i.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err == nil {
		if secs, ok := parseDuration(out); ok {
			return secs, nil
		}
	} else {
		i.logger.WithError(err).Debug("ffprobe failed, estimating duration from size")
	}
	return EstimateFromSize(info.Size()), nil
}

// EstimateFromSize returns ceil(size / 16 KiB), at least one second
func EstimateFromSize(size int64) int {
	secs := int(math.Ceil(float64(size) / fallbackBytesPerSecond))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func parseDuration(out []byte) (int, bool) {
	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f <= 0 || f > maxReportedSeconds {
		return 0, false
	}
	return int(math.Ceil(f)), true
}
