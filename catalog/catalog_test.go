package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	cat := Builtin()
	require.Len(t, cat.Consultants, 6)

	tests := []struct {
		id, name, category string
	}{
		{"1", "Sarah Jenkins", CategoryStudyAbroad},
		{"2", "David Chen", CategoryFinance},
		{"3", "Amanda Brooks", CategoryLegal},
		{"4", "Marcus Thorne", CategoryStartup},
		{"5", "Elena Rodriguez", CategoryCareer},
		{"6", "Dr. Kevin Wu", CategoryTech},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := cat.Find(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.name, c.Name)
			assert.Equal(t, tt.category, c.Category)
			assert.NotEmpty(t, c.Title)
		})
	}
}

func TestBuiltinReturnsCopy(t *testing.T) {
	a := Builtin()
	a.Consultants[0].Name = "changed"
	a.Consultants[0].Languages[0] = "Klingon"

	b := Builtin()
	assert.Equal(t, "Sarah Jenkins", b.Consultants[0].Name)
	assert.Equal(t, "English", b.Consultants[0].Languages[0])
}

func TestFindMissing(t *testing.T) {
	_, err := Builtin().Find("42")
	require.ErrorIs(t, err, shared.ErrConsultantNotFound)
}

func TestByCategory(t *testing.T) {
	cat := Builtin()
	got := cat.ByCategory("technology")
	require.Len(t, got, 1)
	assert.Equal(t, "6", got[0].ID)
	assert.Empty(t, cat.ByCategory("Astrology"))
}

func TestPersona(t *testing.T) {
	c, err := Builtin().Find("2")
	require.NoError(t, err)
	p := c.Persona()
	assert.Equal(t, "David Chen", p.Name)
	assert.Equal(t, "Chartered Accountant (CA)", p.Title)
	assert.Equal(t, CategoryFinance, p.Category)
	assert.Equal(t, c.Description, p.Description)
}

func TestLoadFromReader(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
		wantLen int
	}{
		{
			name: "valid",
			data: `
consultants:
  - id: "7"
    name: Priya Nair
    category: Technology
    title: Data Platform Lead
    rating: 4.6
    languages: [English, Hindi]
  - id: "8"
    name: Tom Berg
    category: Legal Matters
    title: Employment Lawyer
`,
			wantLen: 2,
		},
		{name: "empty", data: "  \n", wantErr: "no config provided"},
		{name: "unknown field", data: "consultants:\n  - id: \"1\"\n    name: A\n    salary: 3\n", wantErr: "decoding catalog"},
		{name: "missing id", data: "consultants:\n  - name: A\n", wantErr: "missing id"},
		{name: "missing name", data: "consultants:\n  - id: \"1\"\n", wantErr: "no persona provided"},
		{name: "duplicate", data: "consultants:\n  - {id: \"1\", name: A}\n  - {id: \"1\", name: B}\n", wantErr: "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, err := LoadFromReader(strings.NewReader(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, cat.Consultants, tt.wantLen)
		})
	}
}

func TestLoad(t *testing.T) {
	cat, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cat.Consultants, 6)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consultants:\n  - {id: x, name: Xavier, category: Technology, title: CTO}\n"), 0o600))
	cat, err = Load(path)
	require.NoError(t, err)
	c, err := cat.Find("x")
	require.NoError(t, err)
	assert.Equal(t, "CTO", c.Title)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
