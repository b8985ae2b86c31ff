package commands

import (
	"collab-lab/contract"
	"collab-lab/domain"
	relayredis "collab-lab/infrastructure/relay/redis"
	"collab-lab/infrastructure/relay/websocket"
	"collab-lab/keys"
	"collab-lab/moderation"
	"collab-lab/runtime"
	"collab-lab/services"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func joinCmd() *cobra.Command {
	var (
		session    string
		user       string
		name       string
		key        string
		passphrase string
		moderate   bool
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a study session and chat from the terminal",
		Long: `Join a study session. Lines are sent as chat messages, except:
  /who                      list participants
  /board                    list the visible whiteboard operations
  /draw x,y x,y... [#rgb] [w]  draw a stroke
  /text x,y words...        place text on the board
  /erase id...              erase operations by id
  /clear                    clear the whiteboard
  /fingerprint              show the session key fingerprint
  /quit                     leave the session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" && passphrase == "" {
				return fmt.Errorf("--key or --passphrase required")
			}
			if user == "" {
				user = uuid.NewString()
			}
			if name == "" {
				name = user
			}
			sessionID := domain.SessionID(session)

			store := keys.NewKeyStore()
			var err error
			if key != "" {
				err = store.ImportKey(sessionID, key)
			} else {
				err = store.DeriveKey(sessionID, passphrase)
			}
			if err != nil {
				return err
			}

			relay, closeRelay, err := buildRelay()
			if err != nil {
				return err
			}
			defer closeRelay()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			transport := runtime.NewTransport(ctx, logger, relay).WithPresenceKey(user + "-" + uuid.NewString()[:8])
			defer transport.Shutdown()

			var opts []services.Option
			if moderate {
				moderator, err := moderation.NewDefaultModerator(logger, '*')
				if err != nil {
					return err
				}
				opts = append(opts, services.WithContentFilter(moderator))
			}
			s, err := services.NewSession(logger, services.Config{SessionID: sessionID, UserID: user, UserName: name}, store, transport, nil, opts...)
			if err != nil {
				return err
			}

			c := newConsole(cmd.OutOrStdout(), user)
			s.OnMessage(c.message)
			s.OnStatus(c.status)
			s.OnParticipantsChange(c.participants)

			startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err = s.Start(startCtx); err != nil {
				return err
			}
			s.TrackPresence(ctx)
			fingerprint, _ := store.Fingerprint(sessionID)
			c.info(fmt.Sprintf("Joined %s as %s, key fingerprint %s", sessionID, name, fingerprint))

			err = repl(ctx, cmd.InOrStdin(), c, s, store)
			leaveCtx, cancelLeave := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelLeave()
			if lerr := s.Leave(leaveCtx); lerr != nil && err == nil {
				err = lerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&user, "user", "", "your user id (default random)")
	cmd.Flags().StringVar(&name, "name", "", "display name (default user id)")
	cmd.Flags().StringVarP(&key, "key", "k", "", "base64 session key from keygen")
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "derive the session key from a passphrase")
	cmd.Flags().BoolVar(&moderate, "moderate", false, "mask offensive words in received messages")
	cmd.Flags().StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "websocket relay endpoint")
	cmd.Flags().StringVar(&cfg.Token, "token", cfg.Token, "relay access token")
	cmd.Flags().StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "join through Redis directly instead of a websocket relay")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func buildRelay() (contract.Relay, func(), error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return relayredis.NewRelay(client, logger, 0), func() { _ = client.Close() }, nil
	}
	if cfg.Token == "" {
		return nil, nil, fmt.Errorf("relay token required (--token or COLLAB_TOKEN)")
	}
	return websocket.NewRelay(logger, cfg.RelayURL, cfg.Token), func() {}, nil
}
