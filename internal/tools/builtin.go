package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/fault"
	"github.com/seamarks/helmsman/internal/notify"
)

const maxHTTPResponseBytes = 1 << 20 // 1 MiB

// BuiltinDeps carries the collaborators the built-in tool handlers need.
type BuiltinDeps struct {
	WorkspaceRoot string
	Notifier      notify.Sink
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// RegisterBuiltins wires the standard tool set into the registry.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	defs := []Definition{
		{
			Name:        "shell_exec",
			Description: "Execute a shell command in the workspace and return its output.",
			InputSchema: objectSchema(map[string]interface{}{
				"command": map[string]interface{}{"type": "string", "description": "The command to run"},
			}, "command"),
			Category: RiskWrite, // per-call classification may downgrade to read
			Handler:  deps.shellExec,
		},
		{
			Name:        "read_file",
			Description: "Read a file from the workspace.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			}, "path"),
			Category: RiskRead,
			Handler:  deps.readFile,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file in the workspace, creating parent directories.",
			InputSchema: objectSchema(map[string]interface{}{
				"path":    map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			}, "path", "content"),
			Category: RiskWrite,
			Handler:  deps.writeFile,
		},
		{
			Name:        "list_dir",
			Description: "List the entries of a workspace directory.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "default": "."},
			}),
			Category: RiskRead,
			Handler:  deps.listDir,
		},
		{
			Name:        "http_request",
			Description: "Perform an HTTP request and return the response body.",
			InputSchema: objectSchema(map[string]interface{}{
				"url":    map[string]interface{}{"type": "string"},
				"method": map[string]interface{}{"type": "string", "default": "GET"},
				"body":   map[string]interface{}{"type": "string"},
			}, "url"),
			Category: RiskNetworkWrite, // per-call classification downgrades GET
			Handler:  deps.httpRequest,
		},
		{
			Name:        "send_notification",
			Description: "Send a message to the operator's notification channel.",
			InputSchema: objectSchema(map[string]interface{}{
				"message": map[string]interface{}{"type": "string"},
				"channel": map[string]interface{}{"type": "string", "default": "operator"},
			}, "message"),
			Category: RiskNetworkWrite,
			Handler:  deps.sendNotification,
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func (d BuiltinDeps) shellExec(ctx context.Context, args map[string]interface{}) (string, error) {
	command, ok := stringArg(args, "command")
	if !ok {
		return "", fault.Validation("shell_exec requires a command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = d.WorkspaceRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", fault.Handler("shell_exec", ctx.Err())
		}
		return "", fault.Handler("shell_exec", fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out))))
	}
	return string(out), nil
}

func (d BuiltinDeps) readFile(_ context.Context, args map[string]interface{}) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", fault.Validation("read_file requires a path")
	}
	data, err := os.ReadFile(filepath.Join(d.WorkspaceRoot, path))
	if err != nil {
		return "", fault.Handler("read_file", err)
	}
	return string(data), nil
}

func (d BuiltinDeps) writeFile(_ context.Context, args map[string]interface{}) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", fault.Validation("write_file requires a path")
	}
	content, _ := args["content"].(string)

	full := filepath.Join(d.WorkspaceRoot, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fault.Handler("write_file", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fault.Handler("write_file", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (d BuiltinDeps) listDir(_ context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(filepath.Join(d.WorkspaceRoot, path))
	if err != nil {
		return "", fault.Handler("list_dir", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (d BuiltinDeps) httpRequest(ctx context.Context, args map[string]interface{}) (string, error) {
	url, ok := stringArg(args, "url")
	if !ok {
		return "", fault.Validation("http_request requires a url")
	}
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if b, ok := args["body"].(string); ok && b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return "", fault.Validation("http_request: %v", err)
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return "", fault.Handler("http_request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return "", fault.Handler("http_request", err)
	}
	if resp.StatusCode >= 400 {
		return "", fault.Handler("http_request",
			fmt.Errorf("%s %s returned %d: %s", method, url, resp.StatusCode, truncate(string(data), 200)))
	}
	return string(data), nil
}

func (d BuiltinDeps) sendNotification(ctx context.Context, args map[string]interface{}) (string, error) {
	message, ok := stringArg(args, "message")
	if !ok {
		return "", fault.Validation("send_notification requires a message")
	}
	channel, _ := args["channel"].(string)
	if channel == "" {
		channel = "operator"
	}
	if d.Notifier == nil {
		return "", fault.Handler("send_notification", fmt.Errorf("no notification sink configured"))
	}
	if err := d.Notifier.Deliver(ctx, channel, message); err != nil {
		return "", fault.Handler("send_notification", err)
	}
	return fmt.Sprintf("notification sent to %s", channel), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
