// Command tokengen mints an operator token for the presence server's admin
// routes, signed with the server's configured JWT secret.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/auth"
	"github.com/ukydev/live-presence/internal/config"
	"github.com/ukydev/live-presence/internal/models"
)

func run(args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "", "Operator name recorded in the token (required)")
	role := fs.String("role", string(models.RoleViewer), "Role: viewer, operator or admin")
	expiry := fs.Duration("expiry", cfg.JWTExpiry, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}
	if *expiry <= 0 {
		return fmt.Errorf("-expiry must be positive")
	}

	token, err := auth.NewService(cfg.JWTSecret, *expiry).GenerateToken(*subject, models.Role(*role))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	if err := run(os.Args[1:], cfg, os.Stdout); err != nil {
		log.WithError(err).Fatal("Failed to mint token")
	}
}
