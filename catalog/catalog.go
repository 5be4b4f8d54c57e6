// Package catalog lists the consultants a user can call.
package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	live "github.com/bt-bridge/consult-live"
	"github.com/bt-bridge/consult-live/shared"
	"github.com/goccy/go-yaml"
)

const (
	CategoryStudyAbroad = "Study Abroad"
	CategoryFinance     = "Finance & Tax"
	CategoryLegal       = "Legal Matters"
	CategoryStartup     = "Startup & Business"
	CategoryCareer      = "Career Coaching"
	CategoryTech        = "Technology"
)

type Consultant struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Category     string   `yaml:"category"`
	Title        string   `yaml:"title"`
	Rating       float64  `yaml:"rating,omitempty"`
	Reviews      int      `yaml:"reviews,omitempty"`
	PricePerHour int      `yaml:"price_per_hour,omitempty"`
	Location     string   `yaml:"location,omitempty"`
	Languages    []string `yaml:"languages,omitempty"`
	Description  string   `yaml:"description,omitempty"`
}

// Persona is the identity the remote model takes on in a call with c.
func (c Consultant) Persona() live.Persona {
	return live.Persona{
		Name:        c.Name,
		Title:       c.Title,
		Category:    c.Category,
		Description: c.Description,
	}
}

type Catalog struct {
	Consultants []Consultant `yaml:"consultants"`
}

// Builtin returns a fresh copy of the default consultants.
func Builtin() *Catalog {
	out := make([]Consultant, len(builtin))
	for i, c := range builtin {
		c.Languages = append([]string(nil), c.Languages...)
		out[i] = c
	}
	return &Catalog{Consultants: out}
}

// Load reads a catalog from a YAML file. An empty path yields Builtin.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

func LoadFromReader(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("decoding catalog: %w", shared.ErrNoConfig)
	}
	cat := &Catalog{}
	if err := yaml.UnmarshalWithOptions(data, cat, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	seen := make(map[string]bool, len(cat.Consultants))
	for i, c := range cat.Consultants {
		switch {
		case c.ID == "":
			return nil, fmt.Errorf("consultant #%d: missing id", i)
		case strings.TrimSpace(c.Name) == "":
			return nil, fmt.Errorf("consultant %s: %w", c.ID, shared.ErrNoPersona)
		case seen[c.ID]:
			return nil, fmt.Errorf("consultant %s: duplicate id", c.ID)
		}
		seen[c.ID] = true
	}
	return cat, nil
}

func (c *Catalog) Find(id string) (Consultant, error) {
	for _, con := range c.Consultants {
		if con.ID == id {
			return con, nil
		}
	}
	return Consultant{}, fmt.Errorf("%w: %s", shared.ErrConsultantNotFound, id)
}

// ByCategory returns the consultants of category in catalog order. Matching
// ignores case.
func (c *Catalog) ByCategory(category string) []Consultant {
	var out []Consultant
	for _, con := range c.Consultants {
		if strings.EqualFold(con.Category, category) {
			out = append(out, con)
		}
	}
	return out
}

var builtin = []Consultant{
	{
		ID:           "1",
		Name:         "Sarah Jenkins",
		Category:     CategoryStudyAbroad,
		Title:        "Senior Education Consultant",
		Rating:       4.9,
		Reviews:      124,
		PricePerHour: 80,
		Location:     "Berlin, Germany",
		Languages:    []string{"English", "German"},
		Description: "Senior Visual Creative Design Guide with nearly 20 years of experience " +
			"crafting distinctive brand identities across digital, print and motion.",
	},
	{
		ID:           "2",
		Name:         "David Chen",
		Category:     CategoryFinance,
		Title:        "Chartered Accountant (CA)",
		Rating:       4.8,
		Reviews:      89,
		PricePerHour: 120,
		Location:     "Vancouver, Canada",
		Languages:    []string{"English", "Mandarin"},
		Description: "Expert in international tax filing and corporate financial planning. " +
			"Helping startups navigate the complex world of finance and compliance.",
	},
	{
		ID:           "3",
		Name:         "Amanda Brooks",
		Category:     CategoryLegal,
		Title:        "Corporate Legal Advisor",
		Rating:       5.0,
		Reviews:      45,
		PricePerHour: 150,
		Location:     "New York, USA",
		Languages:    []string{"English"},
		Description: "Focusing on startup formation, IP protection, and contract law. " +
			"Bridging the gap between legal complexity and business agility.",
	},
	{
		ID:           "4",
		Name:         "Marcus Thorne",
		Category:     CategoryStartup,
		Title:        "Venture Partner & Mentor",
		Rating:       4.7,
		Reviews:      67,
		PricePerHour: 200,
		Location:     "London, UK",
		Description: "Former unicorn founder helping early-stage startups scale and raise capital. " +
			"Expert in product-market fit and GTM strategy.",
	},
	{
		ID:           "5",
		Name:         "Elena Rodriguez",
		Category:     CategoryCareer,
		Title:        "Executive Career Coach",
		Rating:       4.9,
		Reviews:      156,
		PricePerHour: 95,
		Location:     "Madrid, Spain",
		Description:  "Helping professionals pivot into tech and leadership roles through personalized coaching.",
	},
	{
		ID:           "6",
		Name:         "Dr. Kevin Wu",
		Category:     CategoryTech,
		Title:        "Cloud Solutions Architect",
		Rating:       4.8,
		Reviews:      32,
		PricePerHour: 175,
		Location:     "Singapore",
		Description:  "Deep expertise in AWS, Azure, and distributed systems architecture for enterprise scale.",
	},
}
