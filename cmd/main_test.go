package main

import (
	"testing"

	"github.com/DMoenks/group-policy-drive-maps/config"
)

func TestPoliciesRoot(t *testing.T) {
	cfg := &config.Config{}
	if got := policiesRoot(cfg, "corp.local"); got != `\\corp.local\SYSVOL\corp.local\Policies` {
		t.Errorf("Unexpected default root %s", got)
	}

	cfg.SysvolPath = `C:\Replica\Policies`
	if got := policiesRoot(cfg, "corp.local"); got != `C:\Replica\Policies` {
		t.Errorf("Expected the explicit path to win, got %s", got)
	}
}
