package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"stream-billing/internal/config"
)

func ConfigFrom(cfg config.AlertConfig) (Config, error) {
	out := Config{
		Enabled:             cfg.Enabled,
		Workers:             cfg.Workers,
		RetryMax:            cfg.RetryMax,
		RetryBase:           cfg.RetryBase,
		FailureThreshold:    3,
		CircuitOpenDuration: 30 * time.Second,
		RequestTimeout:      5 * time.Second,
		DispatchBuffer:      256,
	}
	if !out.Enabled {
		return out, nil
	}
	raw := strings.TrimSpace(cfg.TargetsJSON)
	if path := strings.TrimSpace(cfg.TargetsPath); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read alert targets %q: %w", path, err)
		}
		raw = strings.TrimSpace(string(b))
	}
	if raw == "" {
		return out, nil
	}
	targets, err := parseTargetsJSON(raw)
	if err != nil {
		return Config{}, err
	}
	out.Targets = targets
	return out, nil
}

func parseTargetsJSON(raw string) ([]Target, error) {
	var targets []Target
	if err := json.Unmarshal([]byte(raw), &targets); err != nil {
		return nil, fmt.Errorf("parse alert targets: %w", err)
	}
	filtered := make([]Target, 0, len(targets))
	for _, t := range targets {
		t.Platform = strings.ToLower(strings.TrimSpace(t.Platform))
		t.Endpoint = strings.TrimSpace(t.Endpoint)
		if t.Endpoint == "" || !t.Enabled {
			continue
		}
		for i := range t.Allowlist {
			t.Allowlist[i] = strings.ToLower(strings.TrimSpace(t.Allowlist[i]))
		}
		filtered = append(filtered, t)
	}
	return filtered, nil
}

func matchTargets(targets []Target, kind Kind) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if kindAllowed(t.Allowlist, kind) {
			out = append(out, t)
		}
	}
	return out
}

func kindAllowed(allowlist []string, kind Kind) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, v := range allowlist {
		if v == string(kind) {
			return true
		}
	}
	return false
}
