package main

import (
	"github.com/spf13/cobra"

	"github.com/doomcode/doomcode/internal/config"
	"github.com/doomcode/doomcode/internal/controller"
	"github.com/doomcode/doomcode/internal/crypto"
	"github.com/doomcode/doomcode/internal/wire"
)

func newConnectCmd() *cobra.Command {
	var (
		wsURL   string
		httpURL string
		agentID string
	)

	cmd := &cobra.Command{
		Use:   "connect <sessionId>",
		Short: "Join an existing relay session as the controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]

			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			if wsURL != "" {
				cfg.WSURL = wsURL
			}
			if httpURL != "" {
				cfg.HTTPURL = httpURL
			}
			if agentID != "" {
				cfg.Agent = agentID
			}

			log := newLogger(cfg)

			kp, err := crypto.GenerateKeypair()
			if err != nil {
				return err
			}

			client, err := controller.Dial(cfg.WSURL, log)
			if err != nil {
				return err
			}
			defer client.Close()

			immediatePeer, err := client.Join(sessionID, wire.RoleController, kp.Public)
			if err != nil {
				return err
			}

			if err := controller.SaveSessionFile(cfg.SessionFilePath(), controller.NewSessionFile(sessionID, cfg.WSURL, cfg.HTTPURL, kp)); err != nil {
				log.Warn().Err(err).Msg("controller: failed to persist session file")
			}

			rt, err := controller.NewRuntime(cfg, log, client, kp, cfg.Agent)
			if err != nil {
				return err
			}

			if immediatePeer != nil {
				rt.HandlePeerKey(*immediatePeer)
			}

			return runUntilSignal(rt, client)
		},
	}

	cmd.Flags().StringVar(&wsURL, "ws-url", "", "relay websocket base URL")
	cmd.Flags().StringVar(&httpURL, "http-url", "", "relay HTTP base URL")
	cmd.Flags().StringVar(&agentID, "agent", "", "assistant binary name")

	return cmd
}
