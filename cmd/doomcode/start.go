package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doomcode/doomcode/internal/config"
	"github.com/doomcode/doomcode/internal/controller"
	"github.com/doomcode/doomcode/internal/crypto"
	"github.com/doomcode/doomcode/internal/wire"
)

func newStartCmd() *cobra.Command {
	var (
		wsURL   string
		httpURL string
		dir     string
		agentID string
		reuse   bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Pair with a new relay session and supervise an assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dir)
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

			var kp *crypto.Keypair
			var sessionID string
			var immediatePeer *string

			if reuse {
				if saved, ok, err := controller.LoadSessionFile(cfg.SessionFilePath()); err != nil {
					return err
				} else if ok {
					kp, err = saved.Keypair()
					if err != nil {
						return err
					}
					sessionID = saved.SessionID
				}
			}

			client, err := controller.Dial(cfg.WSURL, log)
			if err != nil {
				return err
			}
			defer client.Close()

			if sessionID == "" {
				kp, err = crypto.GenerateKeypair()
				if err != nil {
					return err
				}
				sessionID, err = client.Create(kp.Public)
				if err != nil {
					return err
				}
			} else {
				immediatePeer, err = client.Join(sessionID, wire.RoleController, kp.Public)
				if err != nil {
					return err
				}
			}

			if err := controller.SaveSessionFile(cfg.SessionFilePath(), controller.NewSessionFile(sessionID, cfg.WSURL, cfg.HTTPURL, kp)); err != nil {
				log.Warn().Err(err).Msg("controller: failed to persist session file")
			}

			payload := controller.NewPairingPayload(sessionID, kp.Public, cfg.WSURL)
			if err := controller.Render(payload, cmd.OutOrStdout()); err != nil {
				log.Warn().Err(err).Msg("controller: failed to render pairing payload")
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
	cmd.Flags().StringVar(&dir, "dir", "", "working directory (defaults to cwd)")
	cmd.Flags().StringVar(&agentID, "agent", "", "assistant binary name")
	cmd.Flags().BoolVar(&reuse, "reuse", false, "reconnect to the previously persisted session")

	return cmd
}

func runUntilSignal(rt *controller.Runtime, client *controller.Client) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run() }()

	select {
	case <-sig:
		rt.Stop()
		_ = client.Leave()
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("controller: %w", err)
		}
		return nil
	}
}
