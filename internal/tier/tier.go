// Package tier defines the compiled-in model tier registry: named presets
// mapping to the ordered set of remote artifacts a tier downloads.
package tier

import "fmt"

// Artifact is one remote file belonging to a tier.
type Artifact struct {
	// FileName is the logical name written under the tier's folder
	// (e.g. "model.safetensors", "config.json", "tokenizer.json").
	FileName string
	// URL is the absolute HTTP URL the artifact is fetched from.
	URL string
}

// Tier is a named preset mapping to an ordered list of remote artifacts,
// plus the stable folder name used for on-disk layout. Immutable after
// construction.
type Tier struct {
	Name       string
	FolderName string
	Artifacts  []Artifact
}

// registry holds the compiled-in tiers, keyed by name.
var registry = map[string]Tier{
	"low": {
		Name:       "low",
		FolderName: "low",
		Artifacts: []Artifact{
			{FileName: "model.safetensors", URL: "https://cdn.example.com/models/low/model.safetensors"},
			{FileName: "config.json", URL: "https://cdn.example.com/models/low/config.json"},
			{FileName: "tokenizer.json", URL: "https://cdn.example.com/models/low/tokenizer.json"},
		},
	},
	"medium": {
		Name:       "medium",
		FolderName: "medium",
		Artifacts: []Artifact{
			{FileName: "model.safetensors", URL: "https://cdn.example.com/models/medium/model.safetensors"},
			{FileName: "config.json", URL: "https://cdn.example.com/models/medium/config.json"},
			{FileName: "tokenizer.json", URL: "https://cdn.example.com/models/medium/tokenizer.json"},
		},
	},
	"high": {
		Name:       "high",
		FolderName: "high",
		Artifacts: []Artifact{
			{FileName: "model.safetensors", URL: "https://cdn.example.com/models/high/model.safetensors"},
			{FileName: "config.json", URL: "https://cdn.example.com/models/high/config.json"},
			{FileName: "tokenizer.json", URL: "https://cdn.example.com/models/high/tokenizer.json"},
		},
	},
}

// Names returns the registered tier names in a stable display order.
func Names() []string {
	return []string{"low", "medium", "high"}
}

// Get looks up a tier by name.
func Get(name string) (Tier, error) {
	t, ok := registry[name]
	if !ok {
		return Tier{}, fmt.Errorf("unknown model tier %q (available: %v)", name, Names())
	}
	return t, nil
}

// All returns every registered tier in display order.
func All() []Tier {
	names := Names()
	out := make([]Tier, 0, len(names))
	for _, n := range names {
		out = append(out, registry[n])
	}
	return out
}
