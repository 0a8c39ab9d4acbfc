package scheduler

// Provider is the persisted record for one upstream backend.
// available=false implies blockedUntil > 0; once the clock passes
// blockedUntil the record is treated as available again.
type Provider struct {
	Available    bool   `json:"available"`
	BlockedUntil int64  `json:"blockedUntil"` // Unix seconds, 0 when not blocked
	Fallback     string `json:"fallback"`
}

// Stats accumulates fallback events across the document's lifetime.
type Stats struct {
	TotalFallbacks int    `json:"totalFallbacks"`
	LastFallback   string `json:"lastFallback"`
}

// Document is the single shared state document for the scheduler.
type Document struct {
	Models        map[string]*Provider `json:"models"`
	FallbackChain map[string][]string  `json:"fallbackChain"`
	Stats         Stats                `json:"stats"`
}

// Terminal is the ultimate fallback: always returned when nothing better
// is available.
const Terminal = "opus"

// DefaultChainKey resolves unrecognized task categories.
const DefaultChainKey = "default"

func defaultDocument() *Document {
	return &Document{
		Models: map[string]*Provider{
			"gemini-flash": {Available: true, Fallback: "sonnet"},
			"gemini-pro":   {Available: true, Fallback: Terminal},
			"sonnet":       {Available: true, Fallback: Terminal},
			Terminal:       {Available: true, Fallback: Terminal},
		},
		FallbackChain: map[string][]string{
			"analyze":       {"gemini-flash", "sonnet", "gemini-pro", Terminal},
			"generate":      {"sonnet", "gemini-pro", Terminal},
			"summarize":     {"gemini-flash", "gemini-pro", Terminal},
			DefaultChainKey: {"sonnet", "gemini-flash", Terminal},
		},
	}
}

// chain resolves the preference chain for a category, falling back to the
// default chain when the category is unrecognized.
func (d *Document) chain(category string) []string {
	if c, ok := d.FallbackChain[category]; ok && len(c) > 0 {
		return c
	}
	return d.FallbackChain[DefaultChainKey]
}
