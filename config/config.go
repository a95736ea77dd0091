package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DMoenks/group-policy-drive-maps/version"
)

const (
	bindUserEnv     = "GPDM_BIND_USER"
	bindPasswordEnv = "GPDM_BIND_PASSWORD"
)

type Config struct {
	PolicyName          string `json:"policy_name"`
	Domain              string `json:"domain"`
	WorkbookPath        string `json:"workbook_path"`
	SheetName           string `json:"sheet_name"`
	Replace             bool   `json:"replace"`
	Server              string `json:"server"`
	Port                int    `json:"port"`
	UseTLS              bool   `json:"use_tls"`
	BindUser            string `json:"bind_user"`
	BindPassword        string `json:"-"`
	SysvolPath          string `json:"sysvol_path"`
	CreatePolicy        bool   `json:"create_policy"`
	Backup              bool   `json:"backup"`
	LinkedConnections   bool   `json:"linked_connections"`
	MaxLookupsPerSecond int    `json:"max_lookups_per_second"`
	DryRun              bool   `json:"dry_run"`
	LogLevel            string `json:"log_level"`
	ConfigFile          string `json:"config_file"`
	PortSet             bool   `json:"-"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		WorkbookPath:        "DriveMaps.xlsx",
		SheetName:           "DriveMaps",
		Port:                389,
		Backup:              true,
		LinkedConnections:   true,
		MaxLookupsPerSecond: 50,
		LogLevel:            "info",
	}

	policyName := flag.String("policy", cfg.PolicyName, "Display name of the target Group Policy Object (required).")
	domain := flag.String("domain", cfg.Domain, "Target DNS domain (default: discovered from the directory).")
	workbook := flag.String("workbook", cfg.WorkbookPath, fmt.Sprintf("Path to the drive mapping workbook (default: %s).", cfg.WorkbookPath))
	sheet := flag.String("sheet", cfg.SheetName, fmt.Sprintf("Workbook sheet holding the mapping rows (default: %s).", cfg.SheetName))
	replace := flag.Bool("replace", cfg.Replace, fmt.Sprintf("Compile entries in Replace mode instead of Update mode (default: %t).", cfg.Replace))
	server := flag.String("server", cfg.Server, "Directory server to contact (default: the target domain).")
	port := flag.Int("port", cfg.Port, fmt.Sprintf("Directory server port (default: %d, or 636 with --tls).", cfg.Port))
	useTLS := flag.Bool("tls", cfg.UseTLS, fmt.Sprintf("Connect to the directory over TLS (default: %t).", cfg.UseTLS))
	bindUser := flag.String("bind-user", cfg.BindUser, fmt.Sprintf("Directory bind user (default: %s environment variable).", bindUserEnv))
	sysvol := flag.String("sysvol", cfg.SysvolPath, "Policies folder on the SYSVOL share (default: \\\\<domain>\\SYSVOL\\<domain>\\Policies).")
	createPolicy := flag.Bool("create-policy", cfg.CreatePolicy, fmt.Sprintf("Create the policy object when the display name is not found (default: %t).", cfg.CreatePolicy))
	backup := flag.Bool("backup", cfg.Backup, fmt.Sprintf("Back up an existing drive map document before replacing it (default: %t).", cfg.Backup))
	linkedConnections := flag.Bool("linked-connections", cfg.LinkedConnections, fmt.Sprintf("Ensure EnableLinkedConnections is set in the policy's machine settings (default: %t).", cfg.LinkedConnections))
	maxLookups := flag.Int("max-lookups-per-second", cfg.MaxLookupsPerSecond, fmt.Sprintf("Maximum directory lookups per second (default: %d, 0 means unlimited).", cfg.MaxLookupsPerSecond))
	dryRun := flag.Bool("dry-run", cfg.DryRun, fmt.Sprintf("Compile and report without writing anything (default: %t).", cfg.DryRun))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("group-policy-drive-maps version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "policy":
			cfg.PolicyName = *policyName
		case "domain":
			cfg.Domain = *domain
		case "workbook":
			cfg.WorkbookPath = *workbook
		case "sheet":
			cfg.SheetName = *sheet
		case "replace":
			cfg.Replace = *replace
		case "server":
			cfg.Server = *server
		case "port":
			cfg.Port = *port
			cfg.PortSet = true
		case "tls":
			cfg.UseTLS = *useTLS
		case "bind-user":
			cfg.BindUser = *bindUser
		case "sysvol":
			cfg.SysvolPath = *sysvol
		case "create-policy":
			cfg.CreatePolicy = *createPolicy
		case "backup":
			cfg.Backup = *backup
		case "linked-connections":
			cfg.LinkedConnections = *linkedConnections
		case "max-lookups-per-second":
			cfg.MaxLookupsPerSecond = *maxLookups
		case "dry-run":
			cfg.DryRun = *dryRun
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	cfg.applyEnvironment()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func displayHelp() {
	fmt.Println("group-policy-drive-maps - Drive Maps preference compiler")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  group-policy-drive-maps [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  group-policy-drive-maps --policy \"Drive Maps\"")
	fmt.Println("  group-policy-drive-maps --policy \"Drive Maps\" --workbook mappings.xlsx --replace")
	fmt.Println("  group-policy-drive-maps --policy \"Drive Maps\" --domain corp.local --tls --dry-run")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	if _, ok := raw["port"]; ok {
		cfg.PortSet = true
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

// applyEnvironment fills credentials from the environment. The bind password
// is never accepted as a flag or config key so it cannot end up in shell
// history or a checked-in file.
func (cfg *Config) applyEnvironment() {
	if cfg.BindUser == "" {
		cfg.BindUser = os.Getenv(bindUserEnv)
	}
	cfg.BindPassword = os.Getenv(bindPasswordEnv)
}

func (cfg *Config) normalize() {
	cfg.PolicyName = strings.TrimSpace(cfg.PolicyName)
	cfg.Domain = strings.ToLower(strings.TrimSpace(cfg.Domain))
	cfg.Server = strings.TrimSpace(cfg.Server)
	cfg.SheetName = strings.TrimSpace(cfg.SheetName)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.UseTLS && !cfg.PortSet {
		cfg.Port = 636
	}
}

func (cfg *Config) validate() error {
	if cfg.PolicyName == "" {
		return fmt.Errorf("--policy is required")
	}
	if cfg.Domain == "" && cfg.Server == "" {
		return fmt.Errorf("either --domain or --server is required")
	}
	if cfg.SheetName == "" {
		return fmt.Errorf("sheet name must not be empty")
	}
	if cfg.WorkbookPath == "" {
		return fmt.Errorf("workbook path must not be empty")
	}
	if ext := strings.ToLower(filepath.Ext(cfg.WorkbookPath)); ext != ".xlsx" {
		return fmt.Errorf("unsupported workbook extension: %s (only .xlsx is supported)", ext)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.MaxLookupsPerSecond < 0 {
		return fmt.Errorf("max-lookups-per-second must be zero or positive")
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

// DirectoryAddress returns the host the directory client should dial.
func (cfg *Config) DirectoryAddress() string {
	if cfg.Server != "" {
		return cfg.Server
	}
	return cfg.Domain
}
