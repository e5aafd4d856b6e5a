package cli

import (
	"os"
	"path/filepath"
	"strings"
)

// Paths locates an app's files under ~/.giztoy/<app>:
//
//	config.yaml      contexts
//	data/journal/    default badger journal
//	scenarios/       named scenario files
type Paths struct {
	AppName string
	HomeDir string
}

// NewPaths returns the Paths of appName under the user's home directory.
func NewPaths(appName string) (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{AppName: appName, HomeDir: home}, nil
}

// AppDir returns ~/.giztoy/<app>.
func (p *Paths) AppDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir, p.AppName)
}

// ConfigFile returns the path LoadConfig reads when no path is given.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}

// JournalDir returns the default journal directory.
func (p *Paths) JournalDir() string {
	return filepath.Join(p.AppDir(), "data", "journal")
}

// ScenarioDir returns the directory named scenarios are looked up in.
func (p *Paths) ScenarioDir() string {
	return filepath.Join(p.AppDir(), "scenarios")
}

// ResolveScenario maps a scenario argument to a file. An existing file or
// anything that looks like a path is returned as is; a bare name such as
// "basic-call" resolves to scenarios/basic-call.yaml.
func (p *Paths) ResolveScenario(name string) string {
	if _, err := os.Stat(name); err == nil {
		return name
	}
	if strings.ContainsRune(name, filepath.Separator) || filepath.Ext(name) != "" {
		return name
	}
	return filepath.Join(p.ScenarioDir(), name+".yaml")
}
