package cast

import (
	"fmt"
	"strings"
	"time"

	"github.com/spellruntime/spell/internal/entitlement"
	"github.com/spellruntime/spell/internal/manifest"
)

// GateError carries the stable error_code used by the orchestrator's
// always-written receipt and (when fronted by the API) the HTTP mapping.
type GateError struct {
	Code    string
	Message string
}

func (e *GateError) Error() string { return e.Message }

func gateErr(code, format string, args ...any) error {
	return &GateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CheckPlatform enforces the runtime.platforms allowlist with symmetric
// x64<->amd64 aliasing (§9(b)).
func CheckPlatform(m *manifest.Manifest, hostPlatform string) error {
	if len(m.Runtime.Platforms) == 0 {
		return nil
	}
	for _, p := range m.Runtime.Platforms {
		if platformsEqual(p, hostPlatform) {
			return nil
		}
	}
	return gateErr("PLATFORM_MISMATCH", "platform mismatch: host=%s, spell supports=%s",
		hostPlatform, strings.Join(m.Runtime.Platforms, ","))
}

func platformsEqual(a, b string) bool {
	return normalizeArch(a) == normalizeArch(b)
}

func normalizeArch(platform string) string {
	platform = strings.ReplaceAll(platform, "x64", "amd64")
	return platform
}

// CheckRisk enforces the --yes confirmation for high/critical risk bundles.
func CheckRisk(m *manifest.Manifest, yes bool) error {
	if (m.Risk == manifest.RiskHigh || m.Risk == manifest.RiskCritical) && !yes {
		return gateErr("RISK_CONFIRMATION_REQUIRED", "spell %s declares risk=%s; re-run with --yes to confirm", m.ID, m.Risk)
	}
	return nil
}

// CheckBilling enforces --allow-billing plus a matching active license.
func CheckBilling(m *manifest.Manifest, allowBilling bool, licenses *entitlement.LicenseStore, now time.Time) error {
	if !m.Billing.Enabled {
		return nil
	}
	if !allowBilling {
		return gateErr("BILLING_NOT_ALLOWED", "billing enabled requires --allow-billing")
	}
	all, err := licenses.List()
	if err != nil {
		return gateErr("LICENSE_REQUIRED", "loading licenses: %v", err)
	}
	for _, lic := range all {
		if lic.Matches(m.Billing, now) {
			return nil
		}
	}
	return gateErr("LICENSE_REQUIRED", "billing enabled requires matching entitlement token")
}

// CheckPermissions enforces that every declared connector permission has a
// corresponding CONNECTOR_<UPPER>_TOKEN in the environment.
func CheckPermissions(m *manifest.Manifest, env map[string]string) error {
	for _, perm := range m.Permissions {
		key := "CONNECTOR_" + strings.ToUpper(perm.Connector) + "_TOKEN"
		if env[key] == "" {
			return gateErr("PERMISSION_MISSING", "missing connector token %s", key)
		}
	}
	return nil
}
