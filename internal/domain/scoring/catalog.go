package scoring

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/errs"
)

type catalogFile struct {
	Version   int            `toml:"version"`
	Templates []templateFile `toml:"templates"`
}

type templateFile struct {
	Code       string             `toml:"code"`
	Name       string             `toml:"name"`
	Weights    map[string]int     `toml:"weights"`
	Thresholds thresholdsFile     `toml:"thresholds"`
	Items      []templateItemFile `toml:"items"`
}

type thresholdsFile struct {
	Approve int `toml:"approve"`
	Observe int `toml:"observe"`
}

type templateItemFile struct {
	ID    string `toml:"id"`
	Label string `toml:"label"`
	Tier  string `toml:"tier"`
}

// Catalog holds checklist templates by code. It is safe for concurrent use so
// a file watcher can swap templates while scoring runs.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewCatalog builds a catalog that always contains the built-in general template.
func NewCatalog(templates ...Template) *Catalog {
	c := &Catalog{templates: map[string]Template{}}
	c.Replace(templates)
	return c
}

func (c *Catalog) Get(code string) (Template, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = "general"
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	template, ok := c.templates[code]
	if !ok {
		return Template{}, fmt.Errorf("checklist template %q: %w", code, errs.ErrNotFound)
	}
	return template, nil
}

func (c *Catalog) Codes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	codes := make([]string, 0, len(c.templates))
	for code := range c.templates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Replace swaps the catalog contents. The general template stays available
// unless the given set defines its own.
func (c *Catalog) Replace(templates []Template) {
	next := map[string]Template{"general": GeneralTemplate()}
	for _, template := range templates {
		next[template.Code] = template
	}

	c.mu.Lock()
	c.templates = next
	c.mu.Unlock()
}

// LoadCatalogFile parses a TOML template catalog.
func LoadCatalogFile(path string) ([]Template, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("catalog file is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(err, "read catalog %q", path)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) ([]Template, error) {
	var file catalogFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, errs.Wrap(err, "decode catalog")
	}
	if file.Version != 1 {
		return nil, fmt.Errorf("unsupported catalog version %d: expected version = 1", file.Version)
	}

	templates := make([]Template, 0, len(file.Templates))
	for _, entry := range file.Templates {
		template := Template{
			Code:       strings.TrimSpace(entry.Code),
			Name:       strings.TrimSpace(entry.Name),
			Weights:    Weights{},
			Thresholds: Thresholds{Approve: entry.Thresholds.Approve, Observe: entry.Thresholds.Observe},
		}
		for rawTier, weight := range entry.Weights {
			tier, err := inspection.ParseTier(rawTier)
			if err != nil {
				return nil, errs.Wrapf(err, "template %q", template.Code)
			}
			template.Weights[tier] = weight
		}
		for _, item := range entry.Items {
			tier, err := inspection.ParseTier(item.Tier)
			if err != nil {
				return nil, errs.Wrapf(err, "template %q item %q", template.Code, item.ID)
			}
			template.Items = append(template.Items, TemplateItem{
				ID:    strings.TrimSpace(item.ID),
				Label: strings.TrimSpace(item.Label),
				Tier:  tier,
			})
		}
		if err := template.Validate(); err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}
	return templates, nil
}
