package cost

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Pricing is the price of one million tokens in USD.
type Pricing struct {
	InputPerMillion  float64 `yaml:"input_per_million" mapstructure:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" mapstructure:"output_per_million" json:"output_per_million"`
}

// PricingTable maps a provider name to its pricing.
type PricingTable map[string]Pricing

// DefaultPricing returns the built-in pricing table.
func DefaultPricing() PricingTable {
	return PricingTable{
		"gemini":  {InputPerMillion: 0.075, OutputPerMillion: 0.30},
		"chatgpt": {InputPerMillion: 0.150, OutputPerMillion: 0.600},
		"claude":  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	}
}

// Clone returns a copy of the table.
func (t PricingTable) Clone() PricingTable {
	out := make(PricingTable, len(t))
	for name, p := range t {
		out[name] = p
	}
	return out
}

// Validate rejects negative or non-finite prices.
func (t PricingTable) Validate() error {
	for name, p := range t {
		for _, v := range []float64{p.InputPerMillion, p.OutputPerMillion} {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("invalid pricing for %q: %v", name, v)
			}
		}
	}
	return nil
}

type pricingFile struct {
	Pricing PricingTable `yaml:"pricing"`
}

// LoadPricingFile reads a YAML pricing file of the form
//
//	pricing:
//	  gemini:
//	    input_per_million: 0.075
//	    output_per_million: 0.30
//
// Entries override the defaults; providers absent from the file keep their
// built-in price.
func LoadPricingFile(path string) (PricingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var file pricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	if err := file.Pricing.Validate(); err != nil {
		return nil, err
	}

	table := DefaultPricing()
	for name, p := range file.Pricing {
		table[name] = p
	}
	return table, nil
}
