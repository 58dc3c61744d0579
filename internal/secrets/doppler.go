// Package secrets resolves sensitive settings from Doppler, falling back to the
// process environment.
package secrets

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Source resolves a named secret
type Source interface {
	GetSecretWithFallback(key, fallback string) string
}

// DopplerClient reads secrets through the Doppler CLI
type DopplerClient struct {
	Project string
	Config  string
	Timeout time.Duration

	available bool
	checked   bool
}

// NewDopplerClient creates a new Doppler client
func NewDopplerClient(project, config string) *DopplerClient {
	return &DopplerClient{
		Project: project,
		Config:  config,
		Timeout: 5 * time.Second,
	}
}

// Available reports whether the doppler CLI is on PATH
func (d *DopplerClient) Available() bool {
	if !d.checked {
		_, err := exec.LookPath("doppler")
		d.available = err == nil
		d.checked = true
	}
	return d.available
}

// GetSecret retrieves a secret, preferring the environment (doppler run injects it there)
func (d *DopplerClient) GetSecret(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if !d.Available() {
		return "", fmt.Errorf("doppler CLI not found, secret %s unavailable", key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "doppler", "secrets", "get", key,
		"--project", d.Project,
		"--config", d.Config,
		"--plain")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// GetSecretWithFallback gets a secret with a fallback value
func (d *DopplerClient) GetSecretWithFallback(key, fallback string) string {
	value, err := d.GetSecret(key)
	if err != nil || value == "" {
		return fallback
	}
	return value
}
