// Package audio measures recordings and validates uploaded audio.
//
// FFprobeInspector shells out to ffprobe for the container duration and
// falls back to a size estimate of 16 KiB per second. Upload helpers enforce
// the allowed MIME types and the 20 MiB limit and decode base64 live audio.
package audio
