package config

import "testing"

func TestValidateSplit(t *testing.T) {
	cfg := &Config{
		Producers:      4,
		Consumers:      2,
		Capacity:       10,
		TimeoutSeconds: 30,
	}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Dashboard.Enabled = true
	errs, warns := cfg.Validate()
	if len(errs) != 0 {
		t.Fatalf("expected no errors got %v", errs)
	}
	if len(warns) == 0 {
		t.Fatalf("expected a warning for dashboard enabled without auth token")
	}
}

func TestValidateRejectsOutOfRangeParameters(t *testing.T) {
	cfg := &Config{
		Producers:      MaxProducers + 1,
		Consumers:      0,
		Capacity:       0,
		TimeoutSeconds: 0,
	}
	cfg.Logging.Level = "bogus"
	cfg.Logging.Format = "text"
	errs, _ := cfg.Validate()
	if len(errs) < 4 {
		t.Fatalf("expected at least 4 errors, got %v", errs)
	}
}
