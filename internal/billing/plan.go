package billing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier prices one usage band. UpTo is the band's exclusive upper bound in
// the product's billing unit; non-positive means unbounded.
type Tier struct {
	UnitCost float64 `yaml:"unit_cost" json:"unit_cost"`
	UpTo     float64 `yaml:"up_to" json:"up_to"`
}

// Product is the tier ladder for one kind: an included band followed by
// ordered paid bands.
type Product struct {
	Included Tier   `yaml:"included" json:"included"`
	Tiers    []Tier `yaml:"tiers" json:"tiers"`
}

// Plan prices every product for one billing tier and carries the hard
// quota caps. A quota of -1 means unmetered.
type Plan struct {
	ID       string           `yaml:"id" json:"id"`
	Name     string           `yaml:"name" json:"name"`
	Free     bool             `yaml:"free" json:"free"`
	Products map[Kind]Product `yaml:"products" json:"products"`
	Quotas   map[Kind]float64 `yaml:"quotas" json:"quotas"`
}

// Cost integrates the piecewise-linear unit cost of one product over
// [from, from+amount). Usage inside the included band costs its unit
// price (zero on typical plans); the ladder then applies band by band,
// with the last unbounded band absorbing the rest.
func (p Plan) Cost(kind Kind, from, amount float64) float64 {
	if amount <= 0 {
		return 0
	}

	product, ok := p.Products[kind]
	if !ok {
		return 0
	}

	to := from + amount
	total := 0.0
	lower := 0.0

	bands := append([]Tier{product.Included}, product.Tiers...)

	for i, band := range bands {
		upper := band.UpTo
		if upper <= 0 || i == len(bands)-1 && upper < to {
			upper = to
		}

		if upper <= lower {
			lower = upper

			continue
		}

		overlapLo := from
		if lower > overlapLo {
			overlapLo = lower
		}

		overlapHi := to
		if upper < overlapHi {
			overlapHi = upper
		}

		if overlapHi > overlapLo {
			total += (overlapHi - overlapLo) * band.UnitCost
		}

		lower = upper

		if lower >= to {
			break
		}
	}

	return total
}

// Quota returns the hard cap for a kind. The second value is false when
// the kind is unmetered on this plan.
func (p Plan) Quota(kind Kind) (float64, bool) {
	quota, ok := p.Quotas[kind]
	if !ok || quota < 0 {
		return 0, false
	}

	return quota, true
}

// planFile is the YAML document shape of a plan catalog.
type planFile struct {
	Plans []Plan `yaml:"plans"`
}

// LoadPlans reads a plan catalog from a YAML file, keyed by plan id.
func LoadPlans(path string) (map[string]Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans: %w", err)
	}

	return ParsePlans(data)
}

// ParsePlans decodes a plan catalog document.
func ParsePlans(data []byte) (map[string]Plan, error) {
	var file planFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}

	plans := make(map[string]Plan, len(file.Plans))

	for _, plan := range file.Plans {
		if plan.ID == "" {
			return nil, fmt.Errorf("parse plans: plan %q has no id", plan.Name)
		}

		if _, dup := plans[plan.ID]; dup {
			return nil, fmt.Errorf("parse plans: duplicate plan id %q", plan.ID)
		}

		plans[plan.ID] = plan
	}

	return plans, nil
}
