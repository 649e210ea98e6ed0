// Package commands implements the rabby-ipcctl command tree.
package commands

import (
	"fmt"
	"os"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/rabbyhub/desktop-ipc/pkg/client"
	"github.com/rabbyhub/desktop-ipc/pkg/commsutil"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	url           string
	timeout       time.Duration
	invokeSubject string
	sendSubject   string
	version       string
}

// NewRootCmd builds the rabby-ipcctl command tree.
func NewRootCmd(version string) *cobra.Command {
	g := &globals{version: version}

	root := &cobra.Command{
		Use:   "rabby-ipcctl",
		Short: "rabby-ipcctl - call the desktop IPC surface from a terminal",
		Long: `rabby-ipcctl talks to rabby-ipcd over COMMS request/reply.

  rabby-ipcctl channels                      List the channel manifest
  rabby-ipcctl invoke <channel> [arg...]     Invoke a channel; args are JSON values
  rabby-ipcctl send <channel> [arg...]       Send a fire-and-forget message`,
		SilenceUsage: true,
	}

	url := os.Getenv("COMMS_URL")
	if url == "" {
		url = comms.DefaultURL
	}
	root.PersistentFlags().StringVar(&g.url, "url", url, "COMMS server URL (env COMMS_URL)")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", client.DefaultTimeout, "request timeout")
	root.PersistentFlags().StringVar(&g.invokeSubject, "invoke-subject", commsutil.SubjectInvoke, "invoke subject")
	root.PersistentFlags().StringVar(&g.sendSubject, "send-subject", commsutil.SubjectSend, "send subject")

	root.AddCommand(newChannelsCmd(g))
	root.AddCommand(newInvokeCmd(g))
	root.AddCommand(newSendCmd(g))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rabby-ipcctl %s\n", g.version)
		},
	})
	return root
}

// Execute runs the command tree against os.Args.
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}

// connect dials COMMS and returns a client with the configured subjects.
func (g *globals) connect() (*comms.Conn, *client.Client, error) {
	nc, err := comms.Connect(g.url, comms.Name("rabby-ipcctl"), comms.Timeout(5*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", g.url, err)
	}
	c := client.New(nc, &client.Options{
		InvokeSubject: g.invokeSubject,
		SendSubject:   g.sendSubject,
		Timeout:       g.timeout,
	})
	return nc, c, nil
}
