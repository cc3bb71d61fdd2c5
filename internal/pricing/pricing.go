package pricing

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/contentive/orchestrator/internal/metrics"
)

// fileConfig mirrors the pricing section of config/models.yaml.
type fileConfig struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Models map[string]map[string]struct {
			InputPer1K    float64 `yaml:"input_per_1k"`
			OutputPer1K   float64 `yaml:"output_per_1k"`
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"models"`
	} `yaml:"pricing"`
}

type modelPrice struct {
	provider      string
	inputPer1K    float64
	outputPer1K   float64
	combinedPer1K float64
}

// Table holds per-model token pricing. It is built once at startup and
// read-only afterwards, so lookups need no locking.
type Table struct {
	defaultPerToken float64
	models          map[string]modelPrice
}

// fallback when nothing is configured: $0.002 per 1K tokens.
const defaultCombinedPer1K = 0.002

// Default returns a table with only the built-in default price.
func Default() *Table {
	return &Table{
		defaultPerToken: defaultCombinedPer1K / 1000.0,
		models:          map[string]modelPrice{},
	}
}

// Load reads the pricing catalogue from a models.yaml file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal pricing config %s: %w", path, err)
	}

	t := Default()
	if cfg.Pricing.Defaults.CombinedPer1K > 0 {
		t.defaultPerToken = cfg.Pricing.Defaults.CombinedPer1K / 1000.0
	}
	for provider, entries := range cfg.Pricing.Models {
		for model, p := range entries {
			if p.InputPer1K < 0 || p.OutputPer1K < 0 || p.CombinedPer1K < 0 {
				return nil, fmt.Errorf("negative price for %s/%s", provider, model)
			}
			t.models[model] = modelPrice{
				provider:      provider,
				inputPer1K:    p.InputPer1K,
				outputPer1K:   p.OutputPer1K,
				combinedPer1K: p.CombinedPer1K,
			}
		}
	}
	return t, nil
}

// ProviderFor returns the provider that serves the model, if catalogued.
func (t *Table) ProviderFor(model string) (string, bool) {
	p, ok := t.models[model]
	if !ok {
		return "", false
	}
	return p.provider, true
}

// CostForSplit computes the USD cost of an invocation from its input/output
// token split. Unknown models fall back to the default combined price.
func (t *Table) CostForSplit(model string, inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	if p, ok := t.models[model]; ok {
		if p.inputPer1K > 0 && p.outputPer1K > 0 {
			return (float64(inputTokens)/1000.0)*p.inputPer1K +
				(float64(outputTokens)/1000.0)*p.outputPer1K
		}
		if p.combinedPer1K > 0 {
			return (float64(inputTokens+outputTokens) / 1000.0) * p.combinedPer1K
		}
	}

	if model == "" {
		metrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		metrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
	return float64(inputTokens+outputTokens) * t.defaultPerToken
}

// EstimateCost is the conservative cost bound used by budget admission: the
// per-token price is applied to the full token estimate, rounded up at the
// micro-dollar level so the estimate never undercuts the committed cost.
func (t *Table) EstimateCost(model string, tokens int) float64 {
	if tokens < 0 {
		tokens = 0
	}
	// Assume the whole estimate could be billed at the output rate, which is
	// always the more expensive side.
	perToken := t.defaultPerToken
	if p, ok := t.models[model]; ok && p.outputPer1K > 0 {
		perToken = p.outputPer1K / 1000.0
	}
	return math.Ceil(float64(tokens)*perToken*1e6) / 1e6
}
