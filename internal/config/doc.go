// Package config loads nilebus configuration.
//
// Settings are resolved from four layers, lowest precedence first:
//
//  1. Built-in defaults (Default)
//  2. A TOML file
//  3. A dotenv file
//  4. The process environment
//
// The dotenv file and the process environment share one namespace: every
// setting can be overridden with NILEBUS_<SECTION>_<KEY>, for example
// NILEBUS_BUS_OVERFLOW=drop-oldest or NILEBUS_HTTP_CORS_ORIGINS=a.com,b.com.
//
// Example file (nilebus.toml):
//
//	[log]
//	level = "debug"
//
//	[bus]
//	queue_capacity = 5000
//	overflow = "block"
//	handler_timeout = "2s"
//
//	[rules]
//	paths = ["rules.d"]
//	watch = true
//
//	[[schedules]]
//	name = "nightly-sync"
//	spec = "0 0 2 * * *"
//	type = "SYNC_REQUESTED"
//
// Load validates the merged result and reports every problem at once as a
// *ValidationErrors.
package config
