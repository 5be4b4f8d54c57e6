package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstruction(t *testing.T) {
	tests := []struct {
		name     string
		persona  Persona
		video    bool
		contains []string
		excludes []string
	}{
		{
			name:    "video call greets warmly",
			persona: Persona{Name: "David Chen", Title: "Chartered Accountant (CA)", Category: "Finance & Tax"},
			video:   true,
			contains: []string{
				"You are David Chen, a Chartered Accountant (CA). Your expertise is in Finance & Tax.",
				"video consultation",
				"Greet them warmly.",
			},
			excludes: []string{"phone consultation"},
		},
		{
			name:     "phone call answers professionally",
			persona:  Persona{Name: "Amanda Brooks", Title: "Corporate Legal Advisor", Category: "Legal Matters"},
			contains: []string{"phone consultation", "friendly professional greeting"},
			excludes: []string{"video consultation"},
		},
		{
			name:     "description is included",
			persona:  Persona{Name: "Marcus Thorne", Description: "Serial founder."},
			contains: []string{"About you: Serial founder."},
		},
		{
			name:     "missing title and category fall back",
			persona:  Persona{Name: "Ada"},
			contains: []string{"You are Ada, a consultant. Your expertise is in general consulting."},
			excludes: []string{"About you"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Instruction(tt.persona, tt.video)
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, got, s)
			}
		})
	}
}
