package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"yuzu/voicegw/internal/auth"
	"yuzu/voicegw/internal/config"
)

func newTokenCmd() *cobra.Command {
	var clientID, deviceID, secret string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a device token",
		Long:  "Issue a device token signed with auth.secret (or --secret) for the given client and device.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if deviceID == "" || clientID == "" {
				return errors.New("--device-id and --client-id are required")
			}
			if secret == "" {
				secret = config.Load().Auth.Secret
			}
			if secret == "" {
				return errors.New("no secret: set VOICEGW_AUTH_SECRET or pass --secret")
			}
			fmt.Fprintln(cmd.OutOrStdout(), auth.GenerateDeviceToken(secret, clientID, deviceID, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id the token is bound to")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "device id the token is bound to")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to auth.secret)")
	return cmd
}
