package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"review-collab/internal/auth"
	"review-collab/internal/config"
	"review-collab/internal/logger"
	"review-collab/internal/models"
	"review-collab/internal/transport"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serverEvents are printed by watch.
var serverEvents = []models.EventType{
	models.EventUserJoined,
	models.EventUserLeft,
	models.EventUserCursorMoved,
	models.EventUserIsTyping,
	models.EventCommentAdded,
	models.EventCommentUpdated,
	models.EventCommentDeleted,
	models.EventAnnotationStarted,
	models.EventAnnotationUpdated,
	models.EventAnnotationCompleted,
	models.EventAnnotationDeleted,
	models.EventVideoSeeked,
	models.EventVideoPlayPause,
	models.EventInitialState,
	models.EventError,
}

var rootCmd = &cobra.Command{
	Use:   "collabctl",
	Short: "Diagnostics for the review collaboration server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

// connect dials the server named by --server.
func connect(cmd *cobra.Command) (*transport.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	verbose, _ := cmd.Flags().GetBool("verbose")

	log := logger.Discard()
	if verbose {
		log = logger.New(config.EnvLocal, cmd.ErrOrStderr())
	}

	c := transport.New(transport.WithLogger(log), transport.WithAckTimeout(5*time.Second))
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx, server); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", server, err)
	}
	return c, nil
}

func secret(cmd *cobra.Command) (string, error) {
	s, _ := cmd.Flags().GetString("secret")
	if s == "" {
		s = os.Getenv("SOCKET_SECRET")
	}
	if s == "" {
		return "", fmt.Errorf("no secret: pass --secret or set SOCKET_SECRET")
	}
	return s, nil
}

var tokenCmd = &cobra.Command{
	Use:   "token <session-id> <user-id>",
	Short: "Print the authentication token of a user in a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := secret(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), auth.NewSigner(s).Token(args[0], args[1]))
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure the round trip to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Disconnect()

		var total time.Duration
		for i := 1; i <= count; i++ {
			rtt, err := c.Ping(cmd.Context())
			if err != nil {
				return fmt.Errorf("ping %d: %w", i, err)
			}
			total += rtt
			fmt.Fprintf(cmd.OutOrStdout(), "ping %d: %s\n", i, rtt.Round(time.Microsecond))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "avg: %s\n", (total / time.Duration(count)).Round(time.Microsecond))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Join a session and print every event as a JSON line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		userID, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		authenticate, _ := cmd.Flags().GetBool("auth")
		if userID == "" {
			userID = "watcher-" + uuid.NewString()[:8]
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Disconnect()

		out := cmd.OutOrStdout()
		for _, t := range serverEvents {
			c.On(t, func(ev models.Event) {
				data, err := models.Encode(ev, 0)
				if err != nil {
					return
				}
				fmt.Fprintln(out, string(data))
			})
		}

		if authenticate {
			s, err := secret(cmd)
			if err != nil {
				return err
			}
			if _, err := c.Authenticate(cmd.Context(), sessionID, userID, auth.NewSigner(s).Token(sessionID, userID)); err != nil {
				return fmt.Errorf("authenticating: %w", err)
			}
		}

		join := func() {
			c.Emit(models.JoinSession{SessionID: sessionID, User: models.CollaborationUser{
				ID:    userID,
				Name:  name,
				Color: "#888888",
				Role:  "observer",
			}})
			c.Emit(models.RequestInitialState{})
		}
		c.OnStatus(func(connected bool) {
			if connected {
				join()
			}
		})
		join()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		c.Emit(models.LeaveSession{})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("server", "s", "ws://localhost:3001/ws", "WebSocket endpoint")
	rootCmd.PersistentFlags().String("secret", "", "Socket secret (default $SOCKET_SECRET)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log transport activity to stderr")

	pingCmd.Flags().IntP("count", "n", 3, "Number of pings")

	watchCmd.Flags().StringP("user", "u", "", "User id to join as")
	watchCmd.Flags().String("name", "collabctl", "Display name")
	watchCmd.Flags().Bool("auth", false, "Authenticate with a token signed by the secret")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(watchCmd)
}
