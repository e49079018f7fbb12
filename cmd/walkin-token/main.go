// Command walkin-token mints a bearer token for local testing against the
// queue API.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"qms/walkin-queue/internal/access"
	"qms/walkin-queue/internal/clock"
	"qms/walkin-queue/internal/config"
	"qms/walkin-queue/internal/identity"
	"qms/walkin-queue/internal/models"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, user, role, window, lane string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("walkin-token", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file providing JWT_SECRET and JWT_ISSUER")
	flagSet.StringVarP(&user, "user", "u", "", "user id placed in the token subject")
	flagSet.StringVarP(&role, "role", "r", access.RoleOperatorQueue, "admin, reception_security or operator_queue")
	flagSet.StringVarP(&window, "window", "w", "", "default window label for operators")
	flagSet.StringVar(&lane, "lane", "", "lane the operator is assigned to (REG or TECH)")
	flagSet.DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to TOKEN_TTL_MINUTES)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg := config.Load()
	if ttl == 0 {
		ttl = cfg.TokenTTL
	}

	principal := access.Principal{UserID: user, Role: role, WindowLabel: window}
	if lane != "" {
		qt, ok := models.ParseQueueType(lane)
		if !ok {
			return fmt.Errorf("unknown lane %q", lane)
		}
		principal.QueueType = qt
	}

	provider, err := identity.NewProvider(cfg.JWTSecret, cfg.JWTIssuer, ttl, clock.NewSystem())
	if err != nil {
		return err
	}
	token, exp, err := provider.Mint(principal)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
