// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger writing console lines to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// All services accept a context and extract the logger from it, enabling
// scoped, structured logging throughout the codebase. Output goes to stderr
// because stdout belongs to the progress stream consumed by wrapping UIs.
// There are deliberately no Fatal or Panic helpers: the binaries exit
// through their documented status codes and nothing may shortcut that.
package logger
