// Package llm wraps the model provider SDKs behind a single invocation
// surface: tier-based routing, per-provider rate limiting and circuit
// breaking, timeout isolation, and a uniform error classification.
package llm

import "context"

// Request is one model call: a system section, a user section, and the
// sampling parameters chosen by tier configuration.
type Request struct {
	System      string
	User        string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response carries the raw text completion and the provider-reported token
// counts that feed cost accounting.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// TotalTokens is the sum the budget ledger charges for.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is one model backend. Implementations translate Request into the
// vendor SDK's shapes and surface the SDK error unchanged for classification.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}
