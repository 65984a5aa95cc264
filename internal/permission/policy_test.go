package permission

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/seamarks/helmsman/internal/tools"
)

const denyShellPolicy = `package helmsman.tools

default decision := {"deny": false}

decision := {"deny": true, "reason": "shell is blocked by policy"} {
	input.tool == "shell_exec"
}
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deny_shell.rego"), []byte(content), 0o644))
	return dir
}

func TestOverlayDeniesMatchingTool(t *testing.T) {
	dir := writePolicy(t, denyShellPolicy)
	overlay, err := LoadOverlay(dir, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, overlay)

	v, err := overlay.Evaluate(context.Background(), Request{Tool: "shell_exec", Category: tools.RiskWrite}, ModeInteractive)
	require.NoError(t, err)
	assert.True(t, v.Deny)
	assert.Equal(t, "shell is blocked by policy", v.Reason)

	v, err = overlay.Evaluate(context.Background(), Request{Tool: "read_file", Category: tools.RiskRead}, ModeInteractive)
	require.NoError(t, err)
	assert.False(t, v.Deny)
}

func TestGatewayHonorsOverlayDeny(t *testing.T) {
	dir := writePolicy(t, denyShellPolicy)
	overlay, err := LoadOverlay(dir, false, zaptest.NewLogger(t))
	require.NoError(t, err)

	g := NewGateway(time.Second, overlay, nil, zaptest.NewLogger(t))

	// Overlay denies even a read-category invocation of the tool.
	d := g.Decide(context.Background(), Request{Tool: "shell_exec", Category: tools.RiskRead}, ModeInteractive)
	assert.Equal(t, Denied, d)

	// Unrelated reads still auto-approve.
	d = g.Decide(context.Background(), Request{Tool: "read_file", Category: tools.RiskRead}, ModeScopedAuto)
	assert.Equal(t, Approved, d)
}

func TestLoadOverlayEmptyDir(t *testing.T) {
	overlay, err := LoadOverlay(t.TempDir(), false, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, overlay)

	_, err = LoadOverlay(t.TempDir(), true, zaptest.NewLogger(t))
	assert.Error(t, err, "fail-closed with no policies must refuse to start")
}
