// Package httpapi exposes the dispatcher over REST using fiber.
//
// POST /execute accepts a multipart form with language, code, an optional
// output_extension and an optional input_file, and answers with the guest's
// output, error text and output artifact. GET /health and GET /version are
// provided for probes.
package httpapi
