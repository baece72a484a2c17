// Package accounts manages users: signup, login, profile and the lazily
// created billing customer.
//
// Signup inserts the user and provisions the free-plan subscription in the
// same transaction, so a user never exists without a subscription row.
// Emails are trimmed and lower-cased before storage and lookup.
package accounts
