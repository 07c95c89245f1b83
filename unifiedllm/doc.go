// Package unifiedllm is the provider-agnostic streaming transport that model
// sessions talk through. It wraps the gollm library
// (github.com/teilomillet/gollm) behind a small ProviderAdapter contract.
//
// # Architecture
//
//   - ProviderAdapter: one streaming backend per provider.
//   - Client: routes a Request to an adapter, applies stream middleware and
//     retries stream-open failures that are safe to retry.
//   - Errors: a typed hierarchy (RateLimitError, QuotaExceededError, ...)
//     plus IsQuotaError, the signature match used for model fallback.
//   - Catalog: known models ordered strongest first per provider, which is
//     also the default fallback chain.
//
// # Quick Start
//
//	adapter, _ := unifiedllm.NewGollmAdapter("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("anthropic", adapter))
//
//	events, _ := client.Stream(ctx, unifiedllm.Request{
//	    Model:    "claude-opus-4-6",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	for ev := range events {
//	    if ev.Type == unifiedllm.TextDelta {
//	        fmt.Print(ev.Delta)
//	    }
//	}
package unifiedllm
