package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "rules.yaml")
	yamlBody := `
rules:
  - name: port_scan
    enabled: true
    severity: HIGH
    thresholds:
      distinct_ports: 20
  - name: ddos
    enabled: false
    severity: CRITICAL
    thresholds:
      packets_per_window: 2500.5
`
	if err := os.WriteFile(yamlPath, []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}

	jsonPath := filepath.Join(dir, "rules.json")
	jsonBody := `{"rules":[{"name":"tcp_reset_surge","enabled":true,"severity":"MEDIUM","thresholds":{"per_window":5}}]}`
	if err := os.WriteFile(jsonPath, []byte(jsonBody), 0644); err != nil {
		t.Fatal(err)
	}

	fromYAML, err := LoadRules(yamlPath)
	if err != nil {
		t.Fatalf("LoadRules(yaml) error = %v", err)
	}
	if len(fromYAML) != 2 || fromYAML[0].Name != "port_scan" || fromYAML[1].Enabled {
		t.Fatalf("yaml rules = %+v", fromYAML)
	}
	if got := fromYAML[0].Threshold("distinct_ports", 10); got != 20 {
		t.Errorf("int threshold = %v, want 20", got)
	}
	if got := fromYAML[1].Threshold("packets_per_window", 1000); got != 2500.5 {
		t.Errorf("float threshold = %v, want 2500.5", got)
	}
	if got := fromYAML[0].Threshold("missing", 7); got != 7 {
		t.Errorf("missing threshold = %v, want default 7", got)
	}

	fromJSON, err := LoadRules(jsonPath)
	if err != nil {
		t.Fatalf("LoadRules(json) error = %v", err)
	}
	if len(fromJSON) != 1 || fromJSON[0].Threshold("per_window", 10) != 5 {
		t.Errorf("json rules = %+v", fromJSON)
	}

	if _, err := LoadRules(""); err == nil {
		t.Error("LoadRules(\"\") succeeded")
	}
	if _, err := LoadRules(filepath.Join(dir, "absent.yml")); err == nil {
		t.Error("LoadRules(missing) succeeded")
	}
}
