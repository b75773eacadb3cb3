package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wispkit/wispd/internal/model"
)

// routerSeedFile is the on-disk shape of the router inventory.
type routerSeedFile struct {
	Routers []routerSeedEntry `yaml:"routers"`
}

type routerSeedEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Active   *bool  `yaml:"active"`
}

// LoadRouterSeed parses the YAML router inventory at path. A zero port means
// the process-wide device port applies; active defaults to true.
func LoadRouterSeed(path string) ([]model.Router, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read router seed: %w", err)
	}

	var file routerSeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parse router seed %s: %w", path, err)
	}

	var errs []string
	seen := make(map[string]struct{}, len(file.Routers))
	routers := make([]model.Router, 0, len(file.Routers))
	for i, e := range file.Routers {
		id := strings.TrimSpace(e.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Sprintf("routers[%d]: id required", i))
		default:
			if _, dup := seen[id]; dup {
				errs = append(errs, fmt.Sprintf("routers[%d]: duplicate id %q", i, id))
			}
			seen[id] = struct{}{}
		}
		if strings.TrimSpace(e.Address) == "" {
			errs = append(errs, fmt.Sprintf("routers[%d]: address required", i))
		}
		if strings.TrimSpace(e.Username) == "" {
			errs = append(errs, fmt.Sprintf("routers[%d]: username required", i))
		}
		if e.Port < 0 || e.Port > 65535 {
			errs = append(errs, fmt.Sprintf("routers[%d]: port must be 0-65535, got %d", i, e.Port))
		}

		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = id
		}
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		routers = append(routers, model.Router{
			ID:       id,
			Name:     name,
			Address:  strings.TrimSpace(e.Address),
			Port:     e.Port,
			Username: strings.TrimSpace(e.Username),
			Password: e.Password,
			Active:   active,
		})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: router seed %s invalid:\n  %s", path, strings.Join(errs, "\n  "))
	}
	return routers, nil
}
