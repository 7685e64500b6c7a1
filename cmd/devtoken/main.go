// Command devtoken prints a bearer token that binds API requests to a ledger
// signer account. It signs with the same JWT settings the server loads.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	jwttoken "provenance/internal/jwt_token"
	"provenance/internal/platform/config"
	"provenance/pkg/domain"
)

func main() {
	account := flag.String("account", "", "0x-prefixed signer account")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if err := run(*account, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
}

func run(rawAccount string, ttl time.Duration) error {
	account, err := domain.ParseAccount(rawAccount)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	svc := jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	token, err := svc.GenerateSignerToken(account, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
