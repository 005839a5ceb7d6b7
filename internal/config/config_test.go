package config

import "testing"

func validConfig() *Config {
	return &Config{
		Addr:               ":5004",
		TokenSigningSecret: "secret",
		MaxConnections:     500,
		CPURejectThreshold: 75,
		CPUPauseThreshold:  80,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsMissingSecret(t *testing.T) {
	c := validConfig()
	c.TokenSigningSecret = ""
	if err := c.Validate(); err == nil {
		t.Error("expected error for empty TokenSigningSecret")
	}
}

func TestValidateRejectsNonPositiveMaxConnections(t *testing.T) {
	c := validConfig()
	c.MaxConnections = 0
	if err := c.Validate(); err == nil {
		t.Error("expected error for MaxConnections = 0")
	}
}

func TestValidateRejectsCPUThresholdOutOfRange(t *testing.T) {
	c := validConfig()
	c.CPURejectThreshold = 150
	if err := c.Validate(); err == nil {
		t.Error("expected error for CPURejectThreshold > 100")
	}
}

func TestValidateRejectsPauseBelowReject(t *testing.T) {
	c := validConfig()
	c.CPURejectThreshold = 90
	c.CPUPauseThreshold = 50
	if err := c.Validate(); err == nil {
		t.Error("expected error when CPUPauseThreshold < CPURejectThreshold")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Error("expected error for unknown LogLevel")
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	c := validConfig()
	c.LogFormat = "xml"
	if err := c.Validate(); err == nil {
		t.Error("expected error for unknown LogFormat")
	}
}
