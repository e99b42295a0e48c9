package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatOptionsZeroValueIsUsable(t *testing.T) {
	var opts ChatOptions
	assert.Zero(t, opts.Temperature)
	assert.Zero(t, opts.MaxNewTokens)
}

func TestMessageRoles(t *testing.T) {
	m := Message{Role: "user", Content: "hello"}
	assert.Equal(t, "user", m.Role)
	assert.Equal(t, "hello", m.Content)
}

func TestUsageTotals(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
}
