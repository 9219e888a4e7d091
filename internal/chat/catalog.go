package chat

// Model describes a language model offered to the assistant UI.
type Model struct {
	ID          string `json:"id"`           // Stable model identifier.
	Name        string `json:"name"`         // Display name.
	Provider    string `json:"provider"`     // Upstream provider model name.
	BaseCost    int64  `json:"base_cost"`    // Minimum token charge per request.
	Description string `json:"description"`  // Short UI description.
	PremiumOnly bool   `json:"premium_only"` // Restricted to premium and paid tiers.
}

// catalog lists the models exposed by the website-builder assistant.
var catalog = []Model{
	{
		ID:          "smith-lite",
		Name:        "Smith Lite",
		Provider:    "gpt-4o-mini",
		BaseCost:    50,
		Description: "Fast drafts for simple pages and copy edits.",
	},
	{
		ID:          "smith-pro",
		Name:        "Smith Pro",
		Provider:    "gpt-4o",
		BaseCost:    200,
		Description: "Full site layouts, styling, and multi-page structure.",
	},
	{
		ID:          "smith-max",
		Name:        "Smith Max",
		Provider:    "gpt-4-turbo",
		BaseCost:    400,
		Description: "Complex builds with custom scripts and integrations.",
		PremiumOnly: true,
	},
}

// Models returns the model catalog in display order.
func Models() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// ModelByID looks up a catalog entry.
func ModelByID(id string) (Model, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
