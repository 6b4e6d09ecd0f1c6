package apiserver

import "testing"

func TestDecodeConfigDefaults(t *testing.T) {
	cfg, err := DecodeConfig(map[string]interface{}{"repo-path": "/srv/repo"})
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8080 {
		t.Fatalf("DecodeConfig defaults not applied: %+v", cfg)
	}
	if cfg.RepoPath != "/srv/repo" {
		t.Fatalf("DecodeConfig.RepoPath = %q, want /srv/repo", cfg.RepoPath)
	}
}

func TestDecodeConfigRejectsUnknownKeys(t *testing.T) {
	_, err := DecodeConfig(map[string]interface{}{"bogus-key": true})
	if err == nil {
		t.Fatalf("expected DecodeConfig to reject an unknown key")
	}
}
