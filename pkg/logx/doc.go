// Package logx wraps zerolog for tickwork.
//
// Console output is human readable with a short timestamp and a file:line
// caller. File output is JSON. Throttle caps repeated warnings per key.
package logx
