// Package triage orchestrates Clarion's news pipeline. It defines the
// Service (run exclusion, stage sequencing, fingerprint commit,
// delivery), the Run model with per-article outcomes, and the
// in-memory run store behind the HTTP API.
package triage
