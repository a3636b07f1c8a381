// Package handlers provides the HTTP request handlers of the converter API.
//
// It includes handlers for:
//   - Issuing job tokens and submitting download and conversion jobs
//   - Reading and long-polling job progress
//   - Job status and results, with failures reported as plain-text diagnostics
//   - Serving finished artifacts as attachments
//   - Per-address usage, health checks and version information
package handlers
