package usage

import "errors"

// ErrInvalidRequest marks caller mistakes: missing or empty audio, an
// unsupported MIME type, an unknown note type
var ErrInvalidRequest = errors.New("invalid note request")
