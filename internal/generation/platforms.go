package generation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Platform describes a target ad platform preset loaded from the presets
// file. Presets bound how many variants a single generation may request.
type Platform struct {
	Name        string `yaml:"name"`
	Label       string `yaml:"label"`
	MaxVariants int    `yaml:"max_variants"`
	AspectRatio string `yaml:"aspect_ratio"`
}

// Presets is the parsed platform presets file.
type Presets struct {
	Default   string     `yaml:"default"`
	Platforms []Platform `yaml:"platforms"`
}

// LoadPresets reads the platform presets YAML. A missing file yields
// built-in defaults rather than an error.
func LoadPresets(path string) (*Presets, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultPresets(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read platform presets %s: %w", path, err)
	}

	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse platform presets %s: %w", path, err)
	}
	if p.Default == "" && len(p.Platforms) > 0 {
		p.Default = p.Platforms[0].Name
	}
	return &p, nil
}

// Lookup returns the preset for a platform name, falling back to the
// default preset for unknown names.
func (p *Presets) Lookup(name string) Platform {
	for _, plat := range p.Platforms {
		if plat.Name == name {
			return plat
		}
	}
	for _, plat := range p.Platforms {
		if plat.Name == p.Default {
			return plat
		}
	}
	return Platform{Name: "generic", MaxVariants: 4}
}

func defaultPresets() *Presets {
	return &Presets{
		Default: "meta_feed",
		Platforms: []Platform{
			{Name: "meta_feed", Label: "Meta Feed", MaxVariants: 4, AspectRatio: "1:1"},
			{Name: "meta_story", Label: "Meta Story", MaxVariants: 3, AspectRatio: "9:16"},
			{Name: "google_display", Label: "Google Display", MaxVariants: 6, AspectRatio: "16:9"},
		},
	}
}
