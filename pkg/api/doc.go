// Package api is the JSON HTTP surface of voxnote.
//
// NewServer wires handler groups onto a gorilla/mux router:
//
//	PUT  /auth/signup, POST /auth/login          anonymous, limited per IP
//	GET  /plans                                  anonymous
//	GET  /user/profile                           bearer token
//	/notes, /notes/recent, /notes/{id}           bearer token, owner only
//	POST /payment/create-checkout-session        bearer token
//	POST /payment/create-portal-session          bearer token
//	POST /payment/webhook                        provider signature
//	/health, /health/live, /health/ready, /metrics
//
// Errors are written as {"error": ..., "message": ...}. Quota rejections
// answer 403 with the user-facing quota message, provider failures 502, and
// internal faults a generic 500 whose cause is only logged.
package api
