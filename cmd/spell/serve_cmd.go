package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/spellruntime/spell/internal/apiserver"
	"github.com/spellruntime/spell/internal/config"
	"github.com/spellruntime/spell/internal/entitlement"
	"github.com/spellruntime/spell/internal/index"
	"github.com/spellruntime/spell/internal/obslog"
	"github.com/spellruntime/spell/internal/policy"
	"github.com/spellruntime/spell/internal/registry"
	"github.com/spellruntime/spell/internal/trust"
)

// runServeCmd starts the execution API server described by §4.11,
// configured from the SPELL_API_* environment variables read below.
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	home := cmd.String("home", defaultHome(), "spell home directory")
	addr := cmd.String("addr", config.String("SPELL_API_ADDR", ":8090"), "listen address")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := apiserver.Config{
		Home:                          *home,
		Addr:                          *addr,
		BodyLimitBytes:                config.Int64("SPELL_API_BODY_LIMIT_BYTES", 1<<20),
		RateLimitWindowMs:             config.Int("SPELL_API_RATE_LIMIT_WINDOW_MS", 60_000),
		RateLimitMax:                  config.Int("SPELL_API_RATE_LIMIT_MAX_REQUESTS", 0),
		TenantRateLimitMax:            config.Int("SPELL_API_TENANT_RATE_LIMIT_MAX_REQUESTS", 0),
		MaxConcurrentExecutions:       config.Int("SPELL_API_MAX_CONCURRENT_EXECUTIONS", 0),
		TenantMaxConcurrentExecutions: config.Int("SPELL_API_TENANT_MAX_CONCURRENT_EXECUTIONS", 0),
		AuthTokens:                    config.CSV("SPELL_API_AUTH_TOKENS"),
		AuthKeys:                      config.CSV("SPELL_API_AUTH_KEYS"),
		JWTPublicKey:                  config.String("SPELL_API_JWT_PUBLIC_KEY", ""),
		LogRetentionDays:              config.Int("SPELL_API_LOG_RETENTION_DAYS", 0),
		LogMaxFiles:                   config.Int("SPELL_API_LOG_MAX_FILES", 0),
		ForceRequireSignature:         config.Bool("SPELL_API_FORCE_REQUIRE_SIGNATURE"),
		AllowBilling:                  config.Bool("SPELL_API_ALLOW_BILLING"),
		PolicyCELOn:                   config.Bool("SPELL_POLICY_CEL_ENABLED"),
		IndexDSN:                      config.String("SPELL_API_INDEX_DSN", ""),
		RedisAddr:                     config.String("SPELL_API_RATELIMIT_REDIS_ADDR", ""),
	}

	buttons, err := registry.Load(buttonsPath())
	if err != nil {
		fmt.Fprintf(stderr, "spell: loading buttons.json: %v\n", err)
		return 1
	}

	var idx index.Store
	if cfg.IndexDSN != "" {
		idx, err = index.OpenPostgresStore(cfg.IndexDSN)
	} else {
		idx, err = index.NewFileStore(cfg.Home)
	}
	if err != nil {
		fmt.Fprintf(stderr, "spell: opening execution index: %v\n", err)
		return 1
	}

	pol, err := policy.Load(filepath.Join(cfg.Home, "policy.json"))
	if err != nil {
		fmt.Fprintf(stderr, "spell: loading policy: %v\n", err)
		return 1
	}

	trustStore := trust.NewStore(filepath.Join(cfg.Home, "trust"))
	licenseStore := entitlement.NewLicenseStore(filepath.Join(cfg.Home, "licenses"))
	logger := obslog.New(stderr, "spell-api")

	srv, err := apiserver.New(cfg, buttons, idx, trustStore, licenseStore, pol, logger)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "spell execution API listening on %s\n", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, srv.Router()); err != nil {
		fmt.Fprintf(stderr, "spell: server error: %v\n", err)
		return 1
	}
	return 0
}
