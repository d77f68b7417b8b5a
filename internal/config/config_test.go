package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Matching.High != 0.6 || cfg.Matching.Medium != 0.5 || cfg.Matching.Low != 0.4 {
		t.Errorf("default thresholds = %.2f/%.2f/%.2f, want 0.60/0.50/0.40",
			cfg.Matching.High, cfg.Matching.Medium, cfg.Matching.Low)
	}
	if cfg.Clustering.Eps != 0.4 || cfg.Clustering.MinSamples != 2 {
		t.Errorf("default clustering params = %.2f/%d, want 0.40/2",
			cfg.Clustering.Eps, cfg.Clustering.MinSamples)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD_HIGH", "0.8")
	t.Setenv("MATCH_THRESHOLD_MEDIUM", "0.7")
	t.Setenv("DBSCAN_EPS", "0.25")
	t.Setenv("DBSCAN_MIN_SAMPLES", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Matching.High != 0.8 || cfg.Matching.Medium != 0.7 {
		t.Errorf("overridden thresholds = %.2f/%.2f, want 0.80/0.70",
			cfg.Matching.High, cfg.Matching.Medium)
	}
	if cfg.Clustering.Eps != 0.25 || cfg.Clustering.MinSamples != 3 {
		t.Errorf("overridden clustering = %.2f/%d, want 0.25/3",
			cfg.Clustering.Eps, cfg.Clustering.MinSamples)
	}
}

func TestLoadRejectsBadThresholdOrdering(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD_HIGH", "0.4")
	t.Setenv("MATCH_THRESHOLD_MEDIUM", "0.5")

	if _, err := Load(); err == nil {
		t.Error("Load accepted high < medium, want error")
	}
}

func TestMatchingValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MatchingConfig
		wantErr bool
	}{
		{"Defaults", MatchingConfig{High: 0.6, Medium: 0.5, Low: 0.4}, false},
		{"AllEqual", MatchingConfig{High: 0.5, Medium: 0.5, Low: 0.5}, false},
		{"MediumAboveHigh", MatchingConfig{High: 0.4, Medium: 0.5, Low: 0.3}, true},
		{"LowAboveMedium", MatchingConfig{High: 0.8, Medium: 0.5, Low: 0.6}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
