// Command voicegw runs the realtime voice-assistant gateway.
//
// Usage:
//
//	voicegw serve                 start the device, admin and gRPC health listeners
//	voicegw token --device-id ... issue a device token for testing
//
// Configuration comes from VOICEGW_* environment variables, an optional .env
// file and an optional YAML file named by VOICEGW_CONFIG.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voicegw",
		Short:         "Realtime voice-assistant gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// .env is optional
			_ = godotenv.Load()
		},
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
