package tools

import "context"

// RiskCategory classifies a tool's potential for harm and drives the
// default approval policy in the permission gateway.
type RiskCategory string

const (
	RiskRead         RiskCategory = "read"
	RiskWrite        RiskCategory = "write"
	RiskDelete       RiskCategory = "delete"
	RiskNetworkRead  RiskCategory = "network_read"
	RiskNetworkWrite RiskCategory = "network_write"
)

// Handler executes a tool call and returns its textual result.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Definition describes a registered tool. Immutable after registration.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Category    RiskCategory           `json:"category"`
	Handler     Handler                `json:"-"`
}

// Call is a single tool-call request produced by the model boundary or a
// workflow step. Consumed once; persisted only in the audit log.
type Call struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Args   map[string]interface{} `json:"args"`
	Origin string                 `json:"origin"` // conversation id or workflow-run id
}

// Result is the outcome of one executed tool call.
type Result struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}
