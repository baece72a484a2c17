package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
)

// MaxUploadBytes is the default upload limit
const MaxUploadBytes = 20 * 1024 * 1024

var (
	ErrUnsupportedType = errors.New("unsupported audio type")
	ErrTooLarge        = errors.New("file size too large")
)

var allowedTypes = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"video/mp4":   ".mp4",
}

// ExtensionFor returns the file extension for an allowed MIME type
func ExtensionFor(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	ext, ok := allowedTypes[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return ext, nil
}

// DecodeLiveAudio decodes base64 live audio, accepting an optional data URL
// prefix, and enforces maxBytes on the decoded size
func DecodeLiveAudio(encoded string, maxBytes int64) ([]byte, error) {
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrEmptyAudio
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxBytes+2 {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid audio encoding: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	return data, nil
}
