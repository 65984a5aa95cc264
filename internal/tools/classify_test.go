package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyShellCommand(t *testing.T) {
	tests := []struct {
		command string
		want    RiskCategory
	}{
		{"df -h", RiskRead},
		{"ls -la /tmp", RiskRead},
		{"  cat notes.txt", RiskRead},
		{"grep -r TODO .", RiskRead},
		{"rm -rf build", RiskDelete},
		{"rmdir empty", RiskDelete},
		{"curl https://example.com", RiskWrite},
		{"make deploy", RiskWrite},
		{"catalog-tool run", RiskWrite}, // prefix must be a whole word
		{"", RiskWrite},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyShellCommand(tt.command), "command %q", tt.command)
	}
}

func TestClassifyHTTPMethod(t *testing.T) {
	assert.Equal(t, RiskNetworkRead, ClassifyHTTPMethod("GET"))
	assert.Equal(t, RiskNetworkRead, ClassifyHTTPMethod("get"))
	assert.Equal(t, RiskNetworkWrite, ClassifyHTTPMethod("POST"))
	assert.Equal(t, RiskNetworkWrite, ClassifyHTTPMethod("DELETE"))
}

func TestEffectiveCategory(t *testing.T) {
	shell := Definition{Name: "shell_exec", Category: RiskWrite}
	assert.Equal(t, RiskRead, EffectiveCategory(shell, map[string]interface{}{"command": "df -h"}))
	assert.Equal(t, RiskDelete, EffectiveCategory(shell, map[string]interface{}{"command": "rm x"}))
	assert.Equal(t, RiskWrite, EffectiveCategory(shell, map[string]interface{}{}))

	http := Definition{Name: "http_request", Category: RiskNetworkWrite}
	assert.Equal(t, RiskNetworkRead, EffectiveCategory(http, map[string]interface{}{}))
	assert.Equal(t, RiskNetworkWrite, EffectiveCategory(http, map[string]interface{}{"method": "PUT"}))

	other := Definition{Name: "read_file", Category: RiskRead}
	assert.Equal(t, RiskRead, EffectiveCategory(other, map[string]interface{}{"command": "rm x"}))
}
