// Package model scores transactions with an offline-trained classifier.
//
// Training happens elsewhere; this package only loads the exported
// parameter artifact and runs inference. The oracle degrades to a
// neutral score instead of failing: a broken or missing artifact must
// never take transaction scoring down with it.
package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Classifier kinds.
const (
	KindProbability = "probability" // logistic model, sigmoid output
	KindAnomaly     = "anomaly"     // decision function, normalized output
)

// NumericFeature is a scaled numeric input with its fit-time statistics.
type NumericFeature struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
}

// Params is the exported parameter artifact of a fitted classifier.
// Weights align with the numeric features followed by the categorical
// vocabulary, in artifact order.
type Params struct {
	Kind        string           `json:"kind"`
	Numeric     []NumericFeature `json:"numeric"`
	Categorical []string         `json:"categorical"` // vocabulary entries like "currency=USD"
	Weights     []float64        `json:"weights"`
	Intercept   float64          `json:"intercept"`
}

// LoadParams reads and validates a parameter artifact.
func LoadParams(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model params: %w", err)
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse model params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks internal consistency of the artifact.
func (p *Params) Validate() error {
	if p.Kind != KindProbability && p.Kind != KindAnomaly {
		return fmt.Errorf("model params: unknown kind %q", p.Kind)
	}
	want := len(p.Numeric) + len(p.Categorical)
	if len(p.Weights) != want {
		return fmt.Errorf("model params: %d weights for %d features", len(p.Weights), want)
	}
	for _, f := range p.Numeric {
		if f.Name == "" {
			return fmt.Errorf("model params: numeric feature without a name")
		}
	}
	return nil
}
