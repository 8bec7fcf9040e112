// Package domain contains core domain types for the Chef CTS relay.
package domain

// Role identifies who authored a chat message.
type Role string

const (
	// RoleUser marks messages typed by the person using the widget.
	RoleUser Role = "user"
	// RoleAssistant marks replies, greetings and placeholders from the bot.
	RoleAssistant Role = "assistant"
	// RoleSystem marks instructions sent to a chat-completions model.
	RoleSystem Role = "system"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
