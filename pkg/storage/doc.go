// Package storage holds uploaded audio while a note is being processed.
//
// Two ArtifactStore backends exist:
//
//   - FileSystemStore writes artifacts under a local upload directory.
//   - S3Store writes them to an S3 bucket (AWS or an S3-compatible service
//     such as MinIO, using path-style addressing and a custom endpoint).
//
// Artifacts are temporary. The usage gate deletes each artifact once the
// transcription pipeline finishes, whether or not it succeeded.
//
// Tools such as ffprobe need a file on disk; LocalPath returns one for either
// backend, downloading S3 objects into a temporary file when necessary:
//
//	path, cleanup, err := store.LocalPath(ctx, key)
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
// The Postgres connection pool, transaction helper and schema migrations live
// in the postgres subpackage; the Redis client lives in kv.
package storage
