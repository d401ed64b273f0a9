package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/config"
	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/decoder"
	"firestige.xyz/pktstack/internal/source"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <capture>",
	Short: "Decode a capture and print each packet",
	Long: `Decode every frame of a pcap or pcapng capture and print its headers.
With --tree the chunk structure of the packet is printed as well, showing
which parts are decoded headers and which still share the captured bytes.

Examples:
  pktstack inspect trace.pcap
  pktstack inspect --tree -n 10 trace.pcapng`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd.Context(), cfg, args[0], inspectOptions{
			limit: inspectLimit,
			tree:  inspectTree,
		}, cmd.OutOrStdout())
	},
}

var (
	inspectLimit int
	inspectTree  bool
)

func init() {
	inspectCmd.Flags().IntVarP(&inspectLimit, "count", "n", 0,
		"stop after this many frames (0 = all)")
	inspectCmd.Flags().BoolVar(&inspectTree, "tree", false,
		"print the chunk tree of every decoded packet")
}

type inspectOptions struct {
	limit int
	tree  bool
}

func runInspect(ctx context.Context, c *config.Config, path string, opts inspectOptions, w io.Writer) error {
	filter, err := source.NewFilter(c.Source.FilterConfig())
	if err != nil {
		return err
	}
	src, err := source.NewFileSource(path, filter)
	if err != nil {
		return err
	}
	if err := src.Start(ctx); err != nil {
		return err
	}
	defer src.Stop()

	dec := decoder.NewStandardDecoder(decoder.Config{Fragment: c.Reassembly.IP.FragmentConfig()})
	for n := 1; opts.limit <= 0 || n <= opts.limit; n++ {
		raw, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		pkt, err := dec.Decode(raw)
		switch {
		case errors.Is(err, core.ErrFragmentPending):
			fmt.Fprintf(w, "#%d %s fragment held\n", n, raw.Timestamp.Format(timeLayout))
			continue
		case err != nil:
			fmt.Fprintf(w, "#%d %s %dB error: %v\n", n, raw.Timestamp.Format(timeLayout), len(raw.Data), err)
			continue
		}
		fmt.Fprintf(w, "#%d %s\n", n, describePacket(pkt))
		if opts.tree {
			fmt.Fprint(w, chunk.Describe(pkt.Packet.Content()))
		}
	}
	return nil
}

const timeLayout = "15:04:05.000000"

// describePacket renders the decoded headers on one line.
func describePacket(pkt decoder.DecodedPacket) string {
	proto := "ip"
	switch pkt.Transport.Protocol {
	case core.ProtocolTCP:
		proto = "tcp"
	case core.ProtocolUDP:
		proto = "udp"
	}
	s := fmt.Sprintf("%s %s %s:%d > %s:%d payload %s",
		pkt.Timestamp.Format(timeLayout), proto,
		pkt.IP.SrcIP, pkt.Transport.SrcPort, pkt.IP.DstIP, pkt.Transport.DstPort,
		pkt.Payload.Len())
	if len(pkt.Ethernet.VLANs) > 0 {
		s += fmt.Sprintf(" vlan %v", pkt.Ethernet.VLANs)
	}
	if pkt.Transport.Protocol == core.ProtocolTCP {
		s += fmt.Sprintf(" seq %d flags %#04x", pkt.Transport.SeqNum, pkt.Transport.TCPFlags)
	}
	if pkt.Reassembled {
		s += " reassembled"
	}
	return s
}
