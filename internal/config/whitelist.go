package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"docgate/internal/folders"
)

type Whitelist struct {
	Folders []string     `yaml:"folders"`
	Mode    folders.Mode `yaml:"mode"`
}

// LoadWhitelist reads the folder whitelist. An empty pattern list is an
// error: a gateway that may read nothing is a misconfiguration.
func LoadWhitelist(path string) (Whitelist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Whitelist{}, fmt.Errorf("read whitelist: %w", err)
	}
	var raw struct {
		Folders []string `yaml:"folders"`
		Mode    string   `yaml:"mode"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Whitelist{}, fmt.Errorf("parse whitelist: %w", err)
	}

	mode, err := folders.ParseMode(raw.Mode)
	if err != nil {
		return Whitelist{}, err
	}
	wl := Whitelist{Mode: mode}
	for _, f := range raw.Folders {
		if p := folders.Normalize(f); p != "" {
			wl.Folders = append(wl.Folders, p)
		}
	}
	if len(wl.Folders) == 0 {
		return Whitelist{}, fmt.Errorf("whitelist %s defines no folders", path)
	}
	return wl, nil
}

// String renders the whitelist for logs.
func (w Whitelist) String() string {
	return fmt.Sprintf("%s [%s]", w.Mode, strings.Join(w.Folders, ", "))
}
