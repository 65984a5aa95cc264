package tools

import (
	"regexp"
	"strings"
)

// Read-only shell commands that downgrade shell_exec to the read category.
var readCommands = regexp.MustCompile(
	`^(ls|cat|head|tail|wc|find|grep|rg|which|whoami|pwd|echo|date|file|stat|du|df|env|printenv|uname)\b`,
)

// ClassifyShellCommand maps a shell command to an action category. Unknown
// commands classify as write so they hit the approval path.
func ClassifyShellCommand(command string) RiskCategory {
	cmd := strings.TrimSpace(command)
	if readCommands.MatchString(cmd) {
		return RiskRead
	}
	if strings.HasPrefix(cmd, "rm ") || strings.HasPrefix(cmd, "rm\t") || strings.HasPrefix(cmd, "rmdir ") {
		return RiskDelete
	}
	return RiskWrite
}

// ClassifyHTTPMethod maps an HTTP method to an action category.
func ClassifyHTTPMethod(method string) RiskCategory {
	if strings.EqualFold(method, "GET") {
		return RiskNetworkRead
	}
	return RiskNetworkWrite
}

// EffectiveCategory resolves the category for a specific invocation.
// shell_exec and http_request carry per-call risk that depends on their
// arguments; every other tool uses its registered category.
func EffectiveCategory(def Definition, args map[string]interface{}) RiskCategory {
	switch def.Name {
	case "shell_exec":
		if cmd, ok := args["command"].(string); ok {
			return ClassifyShellCommand(cmd)
		}
	case "http_request":
		method := "GET"
		if m, ok := args["method"].(string); ok && m != "" {
			method = m
		}
		return ClassifyHTTPMethod(method)
	}
	return def.Category
}
