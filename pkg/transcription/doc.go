// Package transcription is a client for OpenAI-compatible speech-to-text and
// chat completion APIs. Every failure wraps ErrTranscriptionFailed.
package transcription
