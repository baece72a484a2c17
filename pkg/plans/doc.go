// Package plans is the plan catalog: the free, standard and pro tiers with
// their upload and recording-time maximums and billing price ids.
//
// Plans are reference data. They are seeded at startup (built-in defaults or
// a YAML seed file) and never mutated by request paths, so Catalog caches the
// whole table in an expirable LRU.
package plans
