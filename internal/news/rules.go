package news

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is one entry of the keyword table.
type Category struct {
	Name     string   `yaml:"name"`
	Emoji    string   `yaml:"emoji"`
	Weight   float64  `yaml:"weight"`
	Priority bool     `yaml:"priority"`
	Keywords []string `yaml:"keywords"`
}

// Rules is the scoring context that does not change between cycles.
//
//	categories:
//	  - name: ai
//	    weight: 2.5
//	    priority: true
//	    keywords: [machine learning, neural network]
//	blocked_terms: [black friday]
type Rules struct {
	Categories       []Category `yaml:"categories"`
	BlockedTerms     []string   `yaml:"blocked_terms"`
	BreakingKeywords []string   `yaml:"breaking_keywords"`
	PrioritySources  []string   `yaml:"priority_sources"`
	ImportanceTerms  []string   `yaml:"importance_terms"`
}

// LoadRules reads the keyword tables from a YAML file.
func LoadRules(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()

	var rules Rules
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("decode rules %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	rules.normalize()
	return &rules, nil
}

func (r *Rules) Validate() error {
	if len(r.Categories) == 0 {
		return fmt.Errorf("no categories defined")
	}
	seen := make(map[string]bool, len(r.Categories))
	for _, c := range r.Categories {
		if c.Name == "" || c.Name == CategoryNone {
			return fmt.Errorf("invalid category name %q", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate category %q", c.Name)
		}
		seen[c.Name] = true
		if c.Weight <= 0 {
			return fmt.Errorf("category %q: weight must be positive", c.Name)
		}
		if len(c.Keywords) == 0 {
			return fmt.Errorf("category %q: no keywords", c.Name)
		}
	}
	return nil
}

// normalize lowercases every term once so scoring can compare directly.
func (r *Rules) normalize() {
	for i := range r.Categories {
		r.Categories[i].Keywords = lowerAll(r.Categories[i].Keywords)
	}
	r.BlockedTerms = lowerAll(r.BlockedTerms)
	r.BreakingKeywords = lowerAll(r.BreakingKeywords)
	r.PrioritySources = lowerAll(r.PrioritySources)
	r.ImportanceTerms = lowerAll(r.ImportanceTerms)
}

// Category looks a category up by name.
func (r *Rules) Category(name string) (Category, bool) {
	for _, c := range r.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// IsPrioritySource reports whether source contains a priority domain.
func (r *Rules) IsPrioritySource(source string) bool {
	return containsAny(strings.ToLower(source), r.PrioritySources)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
