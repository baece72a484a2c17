// Package middleware provides the HTTP middleware chain: request ids, access
// logging, panic recovery, CORS, bearer-token authentication and rate
// limiting.
//
// # Ordering
//
// The chain wraps the router as plain handlers, since mux middleware only
// runs for matched routes. Built inside out, so RequestID is outermost:
//
//	var h http.Handler = router
//	h = middleware.CORS(origins)(h)
//	h = middleware.Recovery(h)
//	h = middleware.AccessLog(h)
//	h = middleware.RequestID(logger)(h)
//
// Protected subrouters then add AuthMiddleware.Handler followed by a
// RateLimitMiddleware, so limits apply per user. Anonymous routes are limited
// per client IP.
//
// # Rate Limiting
//
// RateLimiter is an in-process token bucket per key. DistributedRateLimiter
// counts requests in a fixed Redis window shared by all replicas. Both fail
// open: a limiter error lets the request through and is logged.
package middleware
