package config

import (
	"flag"
	"os"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	tmp, err := os.CreateTemp("", "cfg*.json")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	tmp.WriteString(`{"policy_name":"Drive Maps","replace":true,"port":636}`)
	tmp.Close()
	defer os.Remove(tmp.Name())

	cfg := &Config{}
	if err := cfg.loadFromFile(tmp.Name()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PolicyName != "Drive Maps" || !cfg.Replace {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Port != 636 || !cfg.PortSet {
		t.Fatalf("expected explicit port to be tracked: %+v", cfg)
	}
}

func TestNormalizeTLSPort(t *testing.T) {
	cfg := &Config{PolicyName: "p", UseTLS: true, Port: 389}
	cfg.normalize()
	if cfg.Port != 636 {
		t.Fatalf("expected TLS default port 636, got %d", cfg.Port)
	}

	cfg = &Config{PolicyName: "p", UseTLS: true, Port: 3269, PortSet: true}
	cfg.normalize()
	if cfg.Port != 3269 {
		t.Fatalf("explicit port must win, got %d", cfg.Port)
	}

	cfg = &Config{Domain: " CORP.Local "}
	cfg.normalize()
	if cfg.Domain != "corp.local" {
		t.Fatalf("domain not normalized: %q", cfg.Domain)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for missing policy name")
	}
	cfg = &Config{PolicyName: "p", SheetName: "DriveMaps", WorkbookPath: "maps.xlsx", Port: 389, LogLevel: "info"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for missing domain and server")
	}
	cfg = &Config{PolicyName: "p", Domain: "corp.local", SheetName: "DriveMaps", WorkbookPath: "maps.csv", Port: 389, LogLevel: "info"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected invalid workbook extension error")
	}
	cfg = &Config{PolicyName: "p", Domain: "corp.local", SheetName: "DriveMaps", WorkbookPath: "maps.xlsx", Port: 0, LogLevel: "info"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected invalid port error")
	}
	cfg = &Config{PolicyName: "p", Domain: "corp.local", SheetName: "DriveMaps", WorkbookPath: "maps.xlsx", Port: 389, MaxLookupsPerSecond: -1, LogLevel: "info"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected invalid lookup rate error")
	}
	cfg = &Config{PolicyName: "p", Domain: "corp.local", SheetName: "DriveMaps", WorkbookPath: "maps.xlsx", Port: 389, LogLevel: "bad"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected invalid log level error")
	}
	cfg = &Config{PolicyName: "p", Domain: "corp.local", SheetName: "DriveMaps", WorkbookPath: "maps.xlsx", Port: 389, LogLevel: "info"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	oldFlag := flag.CommandLine
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	defer func() { flag.CommandLine = oldFlag }()

	os.Setenv("GPDM_BIND_PASSWORD", "secret")
	defer os.Unsetenv("GPDM_BIND_PASSWORD")

	os.Args = []string{"cmd", "--policy", "Drive Maps", "--domain", "corp.local", "--replace", "--tls"}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PolicyName != "Drive Maps" || !cfg.Replace {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Port != 636 {
		t.Fatalf("expected TLS port default, got %d", cfg.Port)
	}
	if cfg.BindPassword != "secret" {
		t.Fatal("expected bind password from environment")
	}
}

func TestDirectoryAddress(t *testing.T) {
	cfg := &Config{Domain: "corp.local"}
	if cfg.DirectoryAddress() != "corp.local" {
		t.Fatalf("unexpected address: %s", cfg.DirectoryAddress())
	}
	cfg.Server = "dc01.corp.local"
	if cfg.DirectoryAddress() != "dc01.corp.local" {
		t.Fatalf("unexpected address: %s", cfg.DirectoryAddress())
	}
}
