// Package usage gates note creation on the caller's remaining quota.
//
// A file upload costs one upload. A live recording costs its length in
// seconds, measured before the decrement. The decrement happens before the
// transcription provider is called; with RefundOnFailure set, a pipeline
// failure after the decrement credits the quota back.
package usage
