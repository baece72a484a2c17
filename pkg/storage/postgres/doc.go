// Package postgres owns the PostgreSQL connection pool, the transaction
// helper shared by the domain stores and the versioned schema migrations.
//
// Migrations are applied in order and recorded in schema_migrations; each
// runs in its own transaction so a failure leaves earlier versions applied.
package postgres
