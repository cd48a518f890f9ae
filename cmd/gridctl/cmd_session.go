package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var loginName string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in by display name and print the issued token",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginName, "name", "", "Display name to log in as (required)")
	loginCmd.MarkFlagRequired("name")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	session, err := newClient().Login(ctx, loginName)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("Logged in as %s (%s), token valid until %s.\n",
		session.UserName, session.Role, session.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("\nexport GRIDCTL_TOKEN=%s\n", session.Token)
	return nil
}
