package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempProfile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp profile: %v", err)
	}
	return path
}

func TestLoadSingleProfileDefaultsStatusWatchBind(t *testing.T) {
	path := writeTempProfile(t, `
profiles:
  shack:
    address: n4ldr.ddns.net
    username: admin
    password: adminadmin
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, err := f.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Address != "n4ldr.ddns.net" {
		t.Errorf("address = %q", p.Address)
	}
	if p.StatusWatchBind != "127.0.0.1:8923" {
		t.Errorf("status watch bind default = %q, want 127.0.0.1:8923", p.StatusWatchBind)
	}
}

func TestLoadRejectsMissingAddress(t *testing.T) {
	path := writeTempProfile(t, `
profiles:
  shack:
    username: admin
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing address")
	}
}

func TestLoadRejectsUnknownDefault(t *testing.T) {
	path := writeTempProfile(t, `
default: missing
profiles:
  shack:
    address: n4ldr.ddns.net
    username: admin
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown default profile")
	}
}

func TestResolveByNameAndByDefault(t *testing.T) {
	path := writeTempProfile(t, `
default: home
profiles:
  home:
    address: 192.168.1.50
    username: admin
  shack:
    address: n4ldr.ddns.net
    username: admin
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, err := f.Resolve("")
	if err != nil || p.Address != "192.168.1.50" {
		t.Fatalf("Resolve(\"\") = %+v, %v, want home profile", p, err)
	}
	p, err = f.Resolve("shack")
	if err != nil || p.Address != "n4ldr.ddns.net" {
		t.Fatalf("Resolve(\"shack\") = %+v, %v", p, err)
	}
	if _, err := f.Resolve("nope"); err == nil {
		t.Fatal("expected error resolving unknown profile name")
	}
}

func TestMergeOverridesWithNonEmptyFlags(t *testing.T) {
	p := Profile{Address: "file-addr", Username: "file-user", Password: "file-pass"}
	merged := p.Merge("flag-addr", "", "")
	if merged.Address != "flag-addr" {
		t.Errorf("address not overridden: %q", merged.Address)
	}
	if merged.Username != "file-user" {
		t.Errorf("username should stay from file: %q", merged.Username)
	}
	if merged.Password != "file-pass" {
		t.Errorf("password should stay from file: %q", merged.Password)
	}
}
