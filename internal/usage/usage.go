// Package usage accounts token consumption and estimated cost per project,
// model, and role.
package usage

import (
	"math"
	"strings"

	"github.com/tomgoeck/Ultracode-sub000/internal/store"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// modelPrice holds per-million-token prices in USD.
type modelPrice struct {
	input  float64
	output float64
}

// prices is the static price table. Lookup is by model name substring so
// provider-prefixed and Bedrock-style references resolve to the same row.
// Unknown models price at zero.
var prices = map[string]modelPrice{
	"claude-opus-4":    {15.00, 75.00},
	"claude-sonnet-4":  {3.00, 15.00},
	"claude-haiku-4":   {1.00, 5.00},
	"claude-3-5-haiku": {0.80, 4.00},
	"gemini-2.0-flash": {0.10, 0.40},
	"gemini-2.5-pro":   {1.25, 10.00},
	"gemini-2.5-flash": {0.30, 2.50},
	"gpt-4o-mini":      {0.15, 0.60},
	"gpt-4o":           {2.50, 10.00},
}

// Accountant records per-call usage into the store's aggregates.
type Accountant struct {
	store *store.Store
}

// NewAccountant creates an Accountant over st.
func NewAccountant(st *store.Store) *Accountant {
	return &Accountant{store: st}
}

// Record updates both the (project, model) and (project, role, model)
// aggregates for one provider call. Provider-reported counts are preferred;
// when absent, tokens are estimated from text length.
func (a *Accountant) Record(projectID string, role models.Role, model, prompt, output string, reported *models.TokenUsage) error {
	u := normalize(reported, prompt, output)
	cost := Cost(model, u)

	if err := a.store.RecordModelUsage(projectID, model, u, cost); err != nil {
		return err
	}
	return a.store.RecordModelUsageByRole(projectID, role, model, u, cost)
}

// normalize fills in missing token counts. EstimateTokens is used for any
// side the provider did not report.
func normalize(reported *models.TokenUsage, prompt, output string) models.TokenUsage {
	var u models.TokenUsage
	if reported != nil {
		u = *reported
	}
	if u.InputTokens == 0 {
		u.InputTokens = EstimateTokens(prompt)
	}
	if u.OutputTokens == 0 {
		u.OutputTokens = EstimateTokens(output)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64(math.Ceil(float64(len(text)) / 4))
}

// Cost returns the estimated USD cost for u on the given model reference.
func Cost(model string, u models.TokenUsage) float64 {
	p, ok := lookupPrice(model)
	if !ok {
		return 0
	}
	return float64(u.InputTokens)/1e6*p.input + float64(u.OutputTokens)/1e6*p.output
}

func lookupPrice(model string) (modelPrice, bool) {
	model = strings.ToLower(model)
	var (
		best    modelPrice
		bestLen int
		found   bool
	)
	// Longest matching key wins so "claude-3-5-haiku" beats "claude-haiku-4"
	// style overlaps.
	for key, p := range prices {
		if strings.Contains(model, key) && len(key) > bestLen {
			best, bestLen, found = p, len(key), true
		}
	}
	return best, found
}
