// Package contract holds the published field contract: which record fields
// are required, which are required for sellability, and the cascade order
// of their sources. The validator, the cascade resolver and the contract
// document all read the same table.
package contract

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/auction-ingest/internal/model"
)

//go:embed contract.yaml
var embedded []byte

// TaxonomyPolicy decides the fate of a record without tags.
type TaxonomyPolicy string

const (
	TaxonomyNotSellable TaxonomyPolicy = "not_sellable"
	TaxonomyRejected    TaxonomyPolicy = "rejected"
	TaxonomyAccept      TaxonomyPolicy = "accept"
)

// Field is one row of the contract.
type Field struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required"`
	Sellable    bool     `yaml:"sellable"`
	Sources     []string `yaml:"sources"`
	Description string   `yaml:"description"`
}

// Policies are record-level rules that are not per-field presence checks.
type Policies struct {
	MissingTaxonomy TaxonomyPolicy `yaml:"missing_taxonomy"`
}

// Contract is the parsed field table.
type Contract struct {
	Version  int      `yaml:"version"`
	Policies Policies `yaml:"policies"`
	Fields   []Field  `yaml:"fields"`

	byName map[string]int
}

// Default returns the embedded contract. The embedded table is checked by
// tests, so a parse failure here is a build defect.
func Default() *Contract {
	c, err := Parse(embedded)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a contract from path, or returns the embedded one when path
// is empty.
func Load(path string) (*Contract, error) {
	if path == "" {
		return Parse(embedded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "contract: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and checks a contract document.
func Parse(data []byte) (*Contract, error) {
	var c Contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "contract: parse")
	}
	if c.Policies.MissingTaxonomy == "" {
		c.Policies.MissingTaxonomy = TaxonomyNotSellable
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Contract) check() error {
	switch c.Policies.MissingTaxonomy {
	case TaxonomyNotSellable, TaxonomyRejected, TaxonomyAccept:
	default:
		return eris.Errorf("contract: unknown missing_taxonomy policy %q", c.Policies.MissingTaxonomy)
	}
	if len(c.Fields) == 0 {
		return eris.New("contract: no fields")
	}
	c.byName = make(map[string]int, len(c.Fields))
	for i, f := range c.Fields {
		if !model.IsKnownField(f.Name) {
			return eris.Errorf("contract: unknown field %q", f.Name)
		}
		if _, dup := c.byName[f.Name]; dup {
			return eris.Errorf("contract: duplicate field %q", f.Name)
		}
		c.byName[f.Name] = i
	}
	return nil
}

// Field looks up a field by name.
func (c *Contract) Field(name string) (Field, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Field{}, false
	}
	return c.Fields[i], true
}

// Required lists the fields that must be present for general validity,
// in contract order.
func (c *Contract) Required() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Sellable lists the fields that must be present for a record to be
// actionable, in contract order.
func (c *Contract) Sellable() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Sellable {
			out = append(out, f.Name)
		}
	}
	return out
}

// IsRequired reports whether name is in the general completeness set.
func (c *Contract) IsRequired(name string) bool {
	f, ok := c.Field(name)
	return ok && f.Required
}

// Sources returns the declared cascade order for a field.
func (c *Contract) Sources(name string) []string {
	f, _ := c.Field(name)
	return f.Sources
}
