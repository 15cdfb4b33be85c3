// Package main is the entry point for the kubebox server.
//
// kubebox runs untrusted user code (Python, Node.js, Lua, Rust, Go, C++) by
// submitting one short-lived Kubernetes Job per request, reading the result
// from the pod's logs, and deleting the Job in the background once it has
// finished. Requests arrive over REST (multipart POST /execute) or as the
// execute_code tool of an MCP server on stdio or HTTP.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
