package domain

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ManifestPath is where the dependency manifest lives in every participating
// repository.
const ManifestPath = "dependencies.yaml"

type manifestFile struct {
	Dependencies []DependencyDetail `yaml:"dependencies"`
}

// ParseManifest decodes a dependency manifest and validates every entry.
func ParseManifest(data []byte) ([]DependencyDetail, error) {
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse dependency manifest: %w", err)
	}
	for _, dep := range file.Dependencies {
		if err := dep.Validate(); err != nil {
			return nil, fmt.Errorf("invalid dependency manifest: %w", err)
		}
	}
	return file.Dependencies, nil
}

// RenderManifest encodes a dependency set back into manifest form.
func RenderManifest(deps []DependencyDetail) ([]byte, error) {
	data, err := yaml.Marshal(manifestFile{Dependencies: deps})
	if err != nil {
		return nil, fmt.Errorf("failed to render dependency manifest: %w", err)
	}
	return data, nil
}

// ApplyUpdates returns a copy of deps with each update target replacing the
// entry of the same name. Entries are matched case-insensitively; updates
// with no existing entry are appended.
func ApplyUpdates(deps []DependencyDetail, updates []DependencyDetail) []DependencyDetail {
	result := make([]DependencyDetail, 0, len(deps)+len(updates))
	result = append(result, deps...)
	for _, update := range updates {
		replaced := false
		for i := range result {
			if result[i].HasName(update.Name) {
				result[i] = update
				replaced = true
				break
			}
		}
		if !replaced {
			result = append(result, update)
		}
	}
	return result
}
