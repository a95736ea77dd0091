package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DMoenks/group-policy-drive-maps/config"
	"github.com/DMoenks/group-policy-drive-maps/directory"
	"github.com/DMoenks/group-policy-drive-maps/drivemaps"
	"github.com/DMoenks/group-policy-drive-maps/logger"
	"github.com/DMoenks/group-policy-drive-maps/sysvol"
	"github.com/DMoenks/group-policy-drive-maps/update"
	"github.com/DMoenks/group-policy-drive-maps/version"
	"github.com/DMoenks/group-policy-drive-maps/workbook"
)

func main() {
	// Initialize configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.LogLevel)

	if latest, notes, newer, err := update.CheckForUpdate(version.Version); err == nil && newer {
		if strings.Contains(strings.ToLower(notes), "security") {
			logger.Warnf("Update available: %s -> %s (security fixes included)", version.Version, latest)
		} else {
			logger.Infof("Update available: %s -> %s", version.Version, latest)
		}
	}

	// Read the mapping table before touching the directory
	rows, err := workbook.Read(cfg.WorkbookPath, cfg.SheetName)
	if err != nil {
		logger.Fatalf("Could not read mapping table: %v", err)
	}
	if len(rows) == 0 {
		logger.Warnf("Sheet %s of %s holds no mapping rows, the published document will be empty", cfg.SheetName, cfg.WorkbookPath)
	}

	// Connect to the directory
	client, err := directory.Connect(directory.Config{
		Address:             cfg.DirectoryAddress(),
		Port:                cfg.Port,
		UseTLS:              cfg.UseTLS,
		BindUser:            cfg.BindUser,
		BindPassword:        cfg.BindPassword,
		MaxLookupsPerSecond: cfg.MaxLookupsPerSecond,
	})
	if err != nil {
		logger.Fatalf("Could not connect to the directory: %v", err)
	}
	defer client.Close()

	// Locate or create the policy object
	policy, err := client.FindPolicy(cfg.PolicyName)
	if err != nil {
		logger.Fatalf("Could not look up policy %q: %v", cfg.PolicyName, err)
	}
	created := false
	if policy == nil {
		if !cfg.CreatePolicy {
			logger.Fatalf("Policy %q does not exist, pass --create-policy to create it", cfg.PolicyName)
		}
		if cfg.DryRun {
			logger.Fatalf("Policy %q does not exist and --dry-run prevents creating it", cfg.PolicyName)
		}
		policy, err = client.CreatePolicy(cfg.PolicyName)
		if err != nil {
			logger.Fatalf("Could not create policy %q: %v", cfg.PolicyName, err)
		}
		created = true
	}

	// Open the policies folder on SYSVOL
	store, err := sysvol.New(policiesRoot(cfg, client.DomainDNSName()))
	if err != nil {
		logger.Fatalf("Could not open the policies folder: %v", err)
	}
	if created {
		if err := store.CreatePolicyFolders(policy.GUID); err != nil {
			logger.Fatalf("Could not create the policy folders: %v", err)
		}
	}

	// Compile the preference document
	doc, report, err := drivemaps.Compile(rows, drivemaps.CompileOptions{
		Replace:  cfg.Replace,
		Progress: true,
	}, client)
	if err != nil {
		logger.Fatalf("Compilation failed: %v", err)
	}
	content, err := drivemaps.Marshal(doc)
	if err != nil {
		logger.Fatalf("Could not render the preference document: %v", err)
	}
	logReport(report)

	// Work out the next version counter
	gptIni, err := store.ReadGPTINI(policy.GUID)
	if err != nil {
		logger.Fatalf("Could not read the version counter: %v", err)
	}
	next := drivemaps.NextVersion(gptIni)
	logger.Infof("Publishing %d drive mappings to %s (%s) as version %d", report.Emitted, policy.DisplayName, policy.GUID, next)

	if cfg.DryRun {
		logger.Info("Dry run, nothing was written.")
		fmt.Print(string(content))
		return
	}

	// Stage the artifacts, then flip directory and files over together
	if err := store.StageDriveMaps(policy.GUID, content); err != nil {
		logger.Fatalf("Could not stage the preference document: %v", err)
	}
	rendered := sysvol.RenderGPTINI(gptIni, next, policy.DisplayName)
	if err := store.StageGPTINI(policy.GUID, []byte(rendered)); err != nil {
		store.Discard()
		logger.Fatalf("Could not stage the version counter: %v", err)
	}

	if cfg.Backup {
		backup, err := store.Backup(policy.GUID)
		if err != nil {
			store.Discard()
			logger.Fatalf("Could not back up the previous document: %v", err)
		}
		if backup != "" {
			logger.Infof("Previous document saved as %s", filepath.Base(backup))
		}
	}

	if cfg.LinkedConnections {
		written, err := store.EnsureLinkedConnections(policy.GUID)
		if err != nil {
			store.Discard()
			logger.Fatalf("Could not write the linked connections setting: %v", err)
		}
		if written {
			if err := client.MarkMachineExtensions(policy); err != nil {
				store.Discard()
				logger.Fatalf("Could not announce the machine extension: %v", err)
			}
			logger.Info("Linked connections setting written to Registry.pol")
		}
	}

	if err := client.UpdatePolicyVersion(policy, next); err != nil {
		store.Discard()
		logger.Fatalf("Could not update the policy object: %v", err)
	}
	if err := store.Promote(); err != nil {
		logger.Fatalf("Could not publish the staged files: %v", err)
	}

	logger.Infof("Policy %s published successfully at version %d.", policy.DisplayName, next)
}

// policiesRoot resolves the Policies folder to write to: an explicit
// --sysvol path wins, otherwise the domain's SYSVOL share.
func policiesRoot(cfg *config.Config, domainDNS string) string {
	if cfg.SysvolPath != "" {
		return cfg.SysvolPath
	}
	return fmt.Sprintf(`\\%s\SYSVOL\%s\Policies`, domainDNS, domainDNS)
}

func logReport(report *drivemaps.Report) {
	logger.Infof("Compiled %d rows, skipped %d", report.Emitted, report.Skipped)
	for _, outcome := range report.Outcomes {
		if !outcome.Emitted {
			logger.Warnf("Row %d was skipped: %s", outcome.Row, outcome.Reason)
		}
	}
	for _, dropped := range report.Dropped {
		logger.Warnf("Row %d: %s %q had no directory match and was dropped", dropped.Row, dropped.Kind, dropped.Token)
	}
}
