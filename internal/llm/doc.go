// Package llm abstracts the completion backends the agent consults to decide
// how a capability should be invoked. Backends return the raw provider
// response; the Normalizer turns that response into a canonical Invocation
// using a dispatch table keyed by wire dialect.
package llm
