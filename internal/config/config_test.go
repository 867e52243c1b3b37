package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EVIDENCE_RETENTION", "")
	t.Setenv("NOTIFY_FANOUT_LIMIT", "")
	t.Setenv("DEFAULT_PLANT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workflow.EvidenceRetention != 24*time.Hour {
		t.Fatalf("retention=%s", cfg.Workflow.EvidenceRetention)
	}
	if cfg.Workflow.DefaultPlant != "KAPPA" {
		t.Fatalf("plant=%q", cfg.Workflow.DefaultPlant)
	}
	if cfg.Notification.FanOutLimit != 8 {
		t.Fatalf("fanout=%d", cfg.Notification.FanOutLimit)
	}
	if cfg.Scheduler.AuditPruneSpec != "0 3 * * *" {
		t.Fatalf("audit cron=%q", cfg.Scheduler.AuditPruneSpec)
	}
	if cfg.Scheduler.AuditRetention() != 180*24*time.Hour {
		t.Fatalf("audit retention=%s", cfg.Scheduler.AuditRetention())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EVIDENCE_RETENTION", "2160h")
	t.Setenv("NOTIFY_FANOUT_LIMIT", "-3")
	t.Setenv("APP_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workflow.EvidenceRetention != 90*24*time.Hour {
		t.Fatalf("retention=%s", cfg.Workflow.EvidenceRetention)
	}
	if cfg.Notification.FanOutLimit != 1 {
		t.Fatalf("non-positive fanout should clamp to 1, got %d", cfg.Notification.FanOutLimit)
	}
	if cfg.App.Addr() != "0.0.0.0:9090" {
		t.Fatalf("addr=%s", cfg.App.Addr())
	}
}

func TestLoadRejectsBadRetention(t *testing.T) {
	for _, v := range []string{"tomorrow", "-1h"} {
		t.Setenv("EVIDENCE_RETENTION", v)
		if _, err := Load(); err == nil {
			t.Fatalf("EVIDENCE_RETENTION=%q should fail", v)
		}
	}
}

func TestParsePolicyFile(t *testing.T) {
	pf, err := ParsePolicyFile([]byte(`
assignment_rules:
  COORDINATOR: [TECHNICIAN]
  DEPARTMENT_HEAD: [TECHNICIAN, COORDINATOR]
`))
	if err != nil {
		t.Fatalf("ParsePolicyFile: %v", err)
	}
	rules := pf.Rules()
	if len(rules[domain.RoleDepartmentHead]) != 2 {
		t.Fatalf("rules=%v", rules)
	}
	if rules[domain.RoleCoordinator][0] != domain.RoleTechnician {
		t.Fatalf("rules=%v", rules)
	}
}

func TestParsePolicyFileUnknownRole(t *testing.T) {
	_, err := ParsePolicyFile([]byte(`
assignment_rules:
  JANITOR: [TECHNICIAN]
  COORDINATOR: [WIZARD]
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "JANITOR") || !strings.Contains(err.Error(), "WIZARD") {
		t.Fatalf("error should name both bad roles: %v", err)
	}
}

func TestLoadPolicyFile(t *testing.T) {
	pf, err := LoadPolicyFile("")
	if err != nil || pf != nil {
		t.Fatalf("empty path: pf=%v err=%v", pf, err)
	}
	if pf.Rules() != nil {
		t.Fatal("nil file should yield nil rules")
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("assignment_rules:\n  SUPER_ADMIN: [TECHNICIAN]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pf, err = LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if got := pf.Rules()[domain.RoleSuperAdmin]; len(got) != 1 {
		t.Fatalf("rules=%v", got)
	}

	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
}
