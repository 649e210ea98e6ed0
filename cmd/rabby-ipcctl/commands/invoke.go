package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

func newInvokeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <channel> [arg...]",
		Short: "Invoke a channel and print its response record",
		Long: `Invoke a channel and print its response record as JSON.

Each arg is one tuple position. Args that parse as JSON are sent as is; any
other arg is sent as a string.

Examples:
  rabby-ipcctl invoke get-app-version
  rabby-ipcctl invoke get-dapp https://app.uniswap.org
  rabby-ipcctl invoke dapps-togglepin '["https://app.uniswap.org"]' true`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := ipc.Channel(args[0])
			tuple := parseArgs(args[1:])
			nc, c, err := g.connect()
			if err != nil {
				return err
			}
			defer nc.Close()

			var result json.RawMessage
			invokeErr := c.Invoke(cmd.Context(), ch, &result, tuple...)
			if len(result) > 0 {
				var pretty interface{}
				if err := json.Unmarshal(result, &pretty); err == nil {
					if err := writeJSON(cmd.OutOrStdout(), pretty); err != nil {
						return err
					}
				}
			}
			return invokeErr
		},
	}
}

func newSendCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel> [arg...]",
		Short: "Send a message on a send-only channel",
		Long: `Send a message on a send-only channel. There is no reply.

Examples:
  rabby-ipcctl send __internal_rpc:app:open-external-url https://rabby.io
  rabby-ipcctl send __internal_rpc:app:reset-app`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tuple := parseArgs(args[1:])
			nc, c, err := g.connect()
			if err != nil {
				return err
			}
			defer nc.Close()

			if err := c.Send(ipc.Channel(args[0]), tuple...); err != nil {
				return err
			}
			if err := nc.Flush(); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", args[0])
			return nil
		},
	}
}

// parseArgs turns command-line args into tuple positions.
func parseArgs(args []string) []interface{} {
	tuple := make([]interface{}, 0, len(args))
	for _, a := range args {
		if json.Valid([]byte(a)) {
			tuple = append(tuple, json.RawMessage(a))
			continue
		}
		tuple = append(tuple, a)
	}
	return tuple
}
