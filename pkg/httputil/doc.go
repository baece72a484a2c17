// Package httputil provides the JSON response and request helpers shared by
// the API handlers. Error bodies always have the shape
// {"error": "...", "message": "..."} and never carry internal error text.
package httputil
