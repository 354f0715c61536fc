package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fuellabs-go/fuelnet-p2p/internal/logging"
	"github.com/fuellabs-go/fuelnet-p2p/p2p"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fuelnet-p2p",
	Short: "Run a standalone fuelnet-p2p node.",
	Long:  "Run a standalone fuelnet-p2p node, gossiping and serving request/response traffic.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logCfg, err := logging.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load logging config: %w", err)
		}

		logging.InitLogger(logCfg)

		cfg, err := p2p.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return run(cmd.Context(), cfg)
	},
}

func run(ctx context.Context, cfg *p2p.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := p2p.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer node.Close()

	log := logging.Logger("cmd")
	log.Info("node started", "peer_id", node.ID().String())

	for {
		ev, err := node.NextEvent(ctx)
		if err != nil {
			return nil //nolint:nilerr
		}

		switch ev.Kind {
		case p2p.EventPeerConnected:
			log.Info("peer connected", "peer", ev.Peer.String())
		case p2p.EventPeerDisconnected:
			log.Info("peer disconnected", "peer", ev.Peer.String())
		case p2p.EventInboundRequestMessage:
			// A standalone node has no transaction source to answer from;
			// respond with an empty payload of the matching kind.
			_ = node.SendResponse(ctx, ev.RequestID, &p2p.ResponseMessage{Kind: ev.Request.Kind})
		case p2p.EventGossipsubMessage:
			node.ReportMessageValidation(ev.GossipMessageID, p2p.Accept)
		}
	}
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
