// Package notes stores voice notes. A note belongs to exactly one user and
// only that user may read, edit or delete it.
package notes
