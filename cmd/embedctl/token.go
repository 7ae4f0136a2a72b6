package main

import (
	"errors"
	"fmt"

	"resumecast-search/pkg/token"

	"github.com/spf13/cobra"
)

var (
	tokenUserID string
	tokenRole   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token signed with jwt.secret, for operators and local testing",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "User id to put in the token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "USER", "Role claim, e.g. USER or ADMIN")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is empty")
	}
	tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours).GenerateToken(tokenUserID, tokenRole)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
