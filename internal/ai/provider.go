// Package ai implements the triage pipeline's AI stage: a shared
// completion provider contract, a retry policy for the external calls,
// the semantic pre-filter, structured enrichment, and the post-filter
// over enriched fields.
package ai

import "context"

// Provider is the interface for any generative completion backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the provider's reply. Text is the raw assistant output;
// callers parse it against their own contract.
type Response struct {
	Text  string
	Usage Usage
}

// Usage reports token consumption for a call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
