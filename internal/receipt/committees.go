package receipt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type committeesFile struct {
	Committees []*Committee `yaml:"committees"`
}

// LoadCommitteesFile reads committees from a YAML file of the form
//
//	committees:
//	  - id: "1"
//	    name: Styret
func LoadCommitteesFile(path string) ([]*Committee, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading committees file: %w", err)
	}
	return ParseCommittees(data)
}

// ParseCommittees decodes the YAML committee list
func ParseCommittees(data []byte) ([]*Committee, error) {
	var f committeesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing committees: %w", err)
	}
	seen := make(map[string]bool, len(f.Committees))
	for _, c := range f.Committees {
		if c == nil || c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("parsing committees: every committee needs an id and a name")
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("parsing committees: duplicate id %q", c.ID)
		}
		seen[c.ID] = true
	}
	return f.Committees, nil
}
