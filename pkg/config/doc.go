// Package config loads service configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file named by VOXNOTE_CONFIG_FILE, and VOXNOTE_* environment
// variables. A few conventional names (DATABASE_URL, STRIPE_SECRET_KEY,
// STRIPE_WEBHOOK_SECRET, LEMONFOX_API_KEY, CLIENT_URL, JWT_SECRET) are
// accepted as fallbacks.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
