// Package registry loads the application catalog and resolves
// dependency-ordered install and removal plans for deployments.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/homesteadops/homestead/pkg/engine"
)

// App is a static catalog entry. Definitions are immutable at runtime; the
// catalog is loaded once at startup and replaced wholesale on reload.
type App struct {
	// ID uniquely identifies the application within the catalog.
	ID string `yaml:"id" validate:"required,hostname_rfc1123"`

	// Name is the human-readable name.
	Name string `yaml:"name,omitempty"`

	// Description explains what the application provides.
	Description string `yaml:"description,omitempty"`

	// Dependencies lists the catalog ids this app requires, in declaration
	// order. Declaration order is preserved in resolved plans.
	Dependencies []string `yaml:"dependencies,omitempty" validate:"dive,required"`

	// Components names the bundles this app belongs to.
	Components []string `yaml:"components,omitempty"`

	// RequiredByAllApps marks a bundle member that every deployment of any
	// app in the same bundle implicitly requires.
	RequiredByAllApps bool `yaml:"required_by_all_apps,omitempty"`

	// Playbook overrides the provisioning play name. Defaults to
	// "apps/<id>" when empty.
	Playbook string `yaml:"playbook,omitempty"`
}

// Catalog is the parsed application catalog.
type Catalog struct {
	Apps []App `yaml:"apps" validate:"required,dive"`
}

// catalogFile matches one YAML catalog document.
type catalogFile struct {
	Apps []App `yaml:"apps"`
}

var validate = validator.New()

// LoadCatalog reads catalog YAML from a file or directory path. Directories
// are walked recursively and all .yaml/.yml files are merged in filename
// order, so declaration order stays stable across loads.
func LoadCatalog(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog path: %w", err)
	}

	var files []string
	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk catalog directory: %w", err)
		}
	} else {
		files = []string{path}
	}

	catalog := &Catalog{}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file %s: %w", file, err)
		}
		var parsed catalogFile
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse catalog file %s: %w", file, err)
		}
		catalog.Apps = append(catalog.Apps, parsed.Apps...)
	}

	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Validate checks the catalog for structural problems: malformed entries,
// duplicate ids, and dependencies on apps that do not exist.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return engine.NewValidationError(fmt.Sprintf("invalid catalog: %v", err))
	}

	seen := make(map[string]bool, len(c.Apps))
	for _, app := range c.Apps {
		if seen[app.ID] {
			return engine.NewValidationError(fmt.Sprintf("duplicate catalog id: %s", app.ID))
		}
		seen[app.ID] = true
	}

	for _, app := range c.Apps {
		for _, dep := range app.Dependencies {
			if !seen[dep] {
				return engine.NewValidationError(
					fmt.Sprintf("app %s depends on unknown app %s", app.ID, dep)).
					WithTarget(app.ID)
			}
		}
	}
	return nil
}

// PlaybookFor returns the provisioning play name for an app id.
func (c *Catalog) PlaybookFor(appID string) string {
	for _, app := range c.Apps {
		if app.ID == appID && app.Playbook != "" {
			return app.Playbook
		}
	}
	return "apps/" + appID
}
