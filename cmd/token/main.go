// Command token prints an admin access token for the reporting API.
//
//	token -subject ops@example.com [-role admin]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"voiceai-agency/internal/auth"
	"voiceai-agency/internal/config"
	"voiceai-agency/internal/rbac"
)

func main() {
	subject := flag.String("subject", "", "operator name recorded as the token subject")
	role := flag.String("role", rbac.RoleAdmin, "role to grant: admin or super_admin")
	flag.Parse()

	if *subject == "" {
		slog.Error("subject is required")
		os.Exit(2)
	}
	if *role != rbac.RoleAdmin && *role != rbac.RoleSuperAdmin {
		slog.Error("role must be admin or super_admin", "role", *role)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		slog.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	tok, err := m.Issue(time.Now(), *subject, *role)
	if err != nil {
		slog.Error("token issuance failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
