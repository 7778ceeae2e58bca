// Package config loads the optional named-profile file a station can
// keep alongside CLI flags, so a radio's address/username/password
// don't need retyping on every invocation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile holds one named radio's connection settings.
type Profile struct {
	Address         string `yaml:"address"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DeviceName      string `yaml:"device_name"` // passed on as client.Options.DeviceName; does not replace the name reported by the provisioning answer
	StatusWatch     bool   `yaml:"status_watch"`
	StatusWatchBind string `yaml:"status_watch_bind"`
}

// File is the top-level shape of a profile YAML file: a map of profile
// name to settings, so one file can hold more than one radio.
type File struct {
	Profiles map[string]Profile `yaml:"profiles"`
	Default  string             `yaml:"default"`
}

// Load reads and parses a profile file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}
	f.setDefaults()
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid profile file: %w", err)
	}
	return &f, nil
}

func (f *File) setDefaults() {
	for name, p := range f.Profiles {
		if p.StatusWatchBind == "" {
			p.StatusWatchBind = "127.0.0.1:8923"
		}
		f.Profiles[name] = p
	}
}

func (f *File) validate() error {
	if len(f.Profiles) == 0 {
		return fmt.Errorf("no profiles defined")
	}
	for name, p := range f.Profiles {
		if p.Address == "" {
			return fmt.Errorf("profile %q: address is required", name)
		}
		if p.Username == "" {
			return fmt.Errorf("profile %q: username is required", name)
		}
	}
	if f.Default != "" {
		if _, ok := f.Profiles[f.Default]; !ok {
			return fmt.Errorf("default profile %q not found", f.Default)
		}
	}
	return nil
}

// Resolve picks a profile by name, falling back to the file's default,
// falling back to the sole profile if there is exactly one.
func (f *File) Resolve(name string) (Profile, error) {
	if name != "" {
		p, ok := f.Profiles[name]
		if !ok {
			return Profile{}, fmt.Errorf("profile %q not found", name)
		}
		return p, nil
	}
	if f.Default != "" {
		return f.Profiles[f.Default], nil
	}
	if len(f.Profiles) == 1 {
		for _, p := range f.Profiles {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("no profile name given and no default set")
}

// Merge overlays non-empty CLI flag values onto a profile, per the
// teacher's file-then-override precedence: CLI flags always win.
func (p Profile) Merge(address, username, password string) Profile {
	if address != "" {
		p.Address = address
	}
	if username != "" {
		p.Username = username
	}
	if password != "" {
		p.Password = password
	}
	return p
}
