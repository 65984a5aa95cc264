package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/fault"
	"github.com/seamarks/helmsman/internal/tools"
)

// HTTPClient talks to the model service over HTTP JSON. The service
// owns provider selection and streaming; this client gets the whole
// response in one round trip.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient points at the model service base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type wireMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []wireToolCall   `json:"tool_calls,omitempty"`
	Results   []wireToolResult `json:"tool_results,omitempty"`
}

type wireToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type wireToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

type wireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type generateRequest struct {
	System   string        `json:"system,omitempty"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type generateResponse struct {
	Text      string         `json:"text"`
	ToolCalls []wireToolCall `json:"tool_calls"`
	Error     string         `json:"error,omitempty"`
}

// Generate implements Client. Transport and service failures come back
// as provider faults so the orchestrator can surface them without
// crashing.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	body := generateRequest{System: req.System}
	for _, turn := range req.Turns {
		msg := wireMessage{Role: turn.Role, Content: turn.Content}
		for _, call := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, wireToolCall{ID: call.ID, Name: call.Name, Args: call.Args})
		}
		for _, res := range turn.Results {
			msg.Results = append(msg.Results, wireToolResult{CallID: res.CallID, Content: res.Content, IsError: res.IsError})
		}
		body.Messages = append(body.Messages, msg)
	}
	for _, def := range req.Catalog {
		body.Tools = append(body.Tools, wireTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fault.Provider(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fault.Provider(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fault.Provider(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, fault.Provider(err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("model service error",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", data))
		return Response{}, fault.Provider(fmt.Errorf("model service returned %d", resp.StatusCode))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fault.Provider(fmt.Errorf("decoding model response: %w", err))
	}
	if out.Error != "" {
		return Response{}, fault.Provider(fmt.Errorf("model service: %s", out.Error))
	}

	if req.OnDelta != nil && out.Text != "" {
		req.OnDelta(out.Text)
	}

	result := Response{Text: out.Text}
	for _, call := range out.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, tools.Call{
			ID:   call.ID,
			Name: call.Name,
			Args: call.Args,
		})
	}
	return result, nil
}
