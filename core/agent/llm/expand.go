package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const expandSystemPrompt = `You generate short search prototype sentences for a semantic email filter.
Given a seed query, produce diverse paraphrases and concrete variants a matching email might resemble.
Respond with a JSON object: {"prototypes": ["...", "..."]}. No other text.`

// ExpandPrototypes turns a watcher's seed query into up to max prototype
// sentences. The seed itself is always first; LLM output is deduplicated
// case-insensitively against it and each other.
func (c *Client) ExpandPrototypes(ctx context.Context, seed string, max int) ([]string, error) {
	user := fmt.Sprintf("Seed query: %q\nGenerate up to %d prototype sentences.", seed, max-1)
	raw, err := c.Complete(ctx, expandSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	payload := ExtractJSON(raw)
	var parsed struct {
		Prototypes []string `json:"prototypes"`
	}
	if payload != "" {
		// Expansion failures degrade to the seed alone, they never fail
		// watcher creation.
		_ = json.Unmarshal([]byte(payload), &parsed)
	}

	return mergePrototypes(seed, parsed.Prototypes, max), nil
}

// mergePrototypes prepends the seed and deduplicates the candidates
// case-insensitively, keeping at most max entries.
func mergePrototypes(seed string, candidates []string, max int) []string {
	out := []string{seed}
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(seed)): true}
	for _, p := range candidates {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
		if len(out) >= max {
			break
		}
	}
	return out
}
