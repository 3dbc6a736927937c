// Package agent is the orchestrator. It resolves a task to a capability,
// prompts the capability's completion backend with the registered tools,
// normalizes the reply, executes the selected capability and records the
// outcome in the conversation context and the history archive.
package agent
