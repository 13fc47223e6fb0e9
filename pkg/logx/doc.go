// Package logx is the structured logging layer shared by the pubcontrol
// library, the relay and the CLI.
//
// Logger wraps zerolog with value semantics and field helpers. Service owns
// the outputs (console, JSON file, remote sink) and can be re-applied at
// runtime; the relay uses the remote sink to publish its own warnings to a
// pubcontrol channel.
package logx
