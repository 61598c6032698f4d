// Package trustgate provides an in-process trust boundary for Go
// gateway frameworks. It screens inbound messages for prompt
// injection before they reach the agent, filters credentials out of
// outbound replies, and records every intervention on the audit
// trail.
//
// Usage:
//
//	tb, err := trustgate.New(trustgate.WithConfig("~/.trustgate/config.yaml"))
//	guarded := tb.Guard(myHandler)
//	reply, err := guarded(ctx, trustgate.Message{
//	    Content:    body,
//	    SessionKey: "webhook:github",
//	})
//
// The SDK links directly against internal packages for
// zero-subprocess overhead. External users import
// github.com/AIDilloBot/trustgate/sdk/go/trustgate.
package trustgate
