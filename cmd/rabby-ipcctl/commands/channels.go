package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rabbyhub/desktop-ipc/pkg/commsutil"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

func newChannelsCmd(g *globals) *cobra.Command {
	var remote, asJSON bool
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List the channel manifest",
		Long: `List every channel with its argument count and reply shape.

By default the manifest compiled into this binary is printed. With --remote
the running service is asked for its manifest instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			specs := ipc.Manifest()
			if remote {
				var err error
				if specs, err = fetchManifest(cmd.Context(), g); err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), specs)
			}
			return writeManifest(cmd.OutOrStdout(), specs)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the running service for its manifest")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func fetchManifest(ctx context.Context, g *globals) ([]ipc.ChannelSpec, error) {
	nc, _, err := g.connect()
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	msg, err := nc.RequestWithContext(ctx, commsutil.SubjectManifest, nil)
	if err != nil {
		return nil, fmt.Errorf("request manifest: %w", err)
	}
	var specs []ipc.ChannelSpec
	if err := commsutil.DecodePayload(msg.Data, &specs); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return specs, nil
}

func writeManifest(w io.Writer, specs []ipc.ChannelSpec) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tARGS\tREPLY")
	for _, s := range specs {
		fmt.Fprintf(tw, "%s\t%d..%d\t%s\n", s.Channel, s.MinArgs, s.MaxArgs, replyShape(s))
	}
	return tw.Flush()
}

func replyShape(s ipc.ChannelSpec) string {
	switch {
	case s.SendOnly:
		return "send-only"
	case s.Void:
		return "void"
	case s.InBandError:
		return "record + error"
	default:
		return "record"
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
