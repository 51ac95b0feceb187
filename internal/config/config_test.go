package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := Default("test-registry")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Registry.Name != "test-registry" {
		t.Fatalf("registry name = %q", cfg.Registry.Name)
	}
	if cfg.Defaults.WindowSeconds != 300 {
		t.Fatalf("default window = %d, want 300", cfg.Defaults.WindowSeconds)
	}
	admin, ok := cfg.RBAC.Roles["admin"]
	if !ok {
		t.Fatal("default config must define admin role")
	}
	if len(admin.Capabilities) != len(Capabilities) {
		t.Fatalf("admin capabilities = %v", admin.Capabilities)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing registry name",
			yaml: "defaults:\n  window_seconds: 300\n",
			want: "registry.name",
		},
		{
			name: "roles without admin",
			yaml: "registry:\n  name: r\nrbac:\n  roles:\n    reporter:\n      capabilities: [registration]\n",
			want: "must include admin",
		},
		{
			name: "unknown capability",
			yaml: "registry:\n  name: r\nrbac:\n  roles:\n    admin:\n      capabilities: [superuser]\n",
			want: "unknown capability",
		},
		{
			name: "webhook without url",
			yaml: "registry:\n  name: r\nwebhooks:\n  - events: [sla.violated]\n",
			want: "empty url",
		},
		{
			name: "negative webhook timeout",
			yaml: "registry:\n  name: r\nwebhooks:\n  - url: http://example.com/hook\n    timeout_seconds: -1\n",
			want: "negative timeout",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestFromYAMLRoundTrip(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("round-trip")))
	if err != nil {
		t.Fatalf("generated default invalid: %v", err)
	}
	if cfg.Registry.Name != "round-trip" {
		t.Fatalf("registry name = %q", cfg.Registry.Name)
	}
}
