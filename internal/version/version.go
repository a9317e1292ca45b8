// Package version reports the client version sent to the server in the
// ready event.
package version

const Client = "1.0.0"
