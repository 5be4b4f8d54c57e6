package live

import (
	"fmt"
	"strings"
)

// Persona describes the consultant the remote model plays.
type Persona struct {
	Name        string `yaml:"name" json:"name"`
	Title       string `yaml:"title" json:"title"`
	Category    string `yaml:"category" json:"category"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Instruction builds the system instruction for a call with p. Video calls
// greet warmly; phone calls answer like a professional picking up.
func Instruction(p Persona, video bool) string {
	title := p.Title
	if title == "" {
		title = "consultant"
	}
	category := p.Category
	if category == "" {
		category = "general consulting"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s. Your expertise is in %s.", p.Name, title, category)
	if d := strings.TrimSpace(p.Description); d != "" {
		fmt.Fprintf(&b, " About you: %s", d)
	}
	if video {
		b.WriteString(" Keep your responses professional, helpful, and concise." +
			" The user has just joined a video consultation with you. Greet them warmly.")
	} else {
		b.WriteString(" This is a phone consultation. Speak clearly and professionally." +
			" The user has just called you. Answer with a friendly professional greeting.")
	}
	return b.String()
}
