package gitopsconfig

import "testing"

func TestLoadSharedRequiresVersionsURL(t *testing.T) {
	t.Setenv("VERSIONS_URL", "")
	t.Setenv("VERSIONS_CHECKOUT_PATH", "/tmp/checkout")
	if _, err := LoadShared(); err == nil {
		t.Fatal("expected error when VERSIONS_URL is unset")
	}
}

func TestLoadSharedDefaultsAPIPort(t *testing.T) {
	t.Setenv("VERSIONS_URL", "git@example.com:org/versions.git")
	t.Setenv("VERSIONS_CHECKOUT_PATH", "/tmp/checkout")
	t.Setenv("API_PORT", "")

	cfg, err := LoadShared()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIPort != defaultAPIPort {
		t.Fatalf("APIPort = %d, want %d", cfg.APIPort, defaultAPIPort)
	}
}

func TestLoadAggregatorDefaultsUIPath(t *testing.T) {
	t.Setenv("VERSIONS_URL", "git@example.com:org/versions.git")
	t.Setenv("VERSIONS_CHECKOUT_PATH", "/tmp/checkout")
	t.Setenv("UI_PATH", "")

	cfg, err := LoadAggregator()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UIPath != defaultUIPath {
		t.Fatalf("UIPath = %q, want %q", cfg.UIPath, defaultUIPath)
	}
}
