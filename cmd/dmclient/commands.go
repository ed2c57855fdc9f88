package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"instanext/internal/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(loginCmd, conversationsCmd, sendCmd, chatCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print an access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, userID, err := authenticate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "logged in as %s\n", userID)
		fmt.Fprintln(cmd.OutOrStdout(), api.Token())
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, userID, err := authenticate(cmd.Context())
		if err != nil {
			return err
		}

		views, err := api.Conversations(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i := range views {
			v := &views[i]
			peer := "?"
			if p, ok := v.Peer(userID); ok {
				peer = fmt.Sprintf("%s (%s)", p.Username, p.ID)
			}
			last := ""
			if m := v.LastMessage(); m != nil {
				last = m.Text
			}
			fmt.Fprintf(out, "%s  %-30s  %s\n", formatTime(v.UpdatedAt), peer, last)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <text>",
	Short: "Send one message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := authenticate(cmd.Context())
		if err != nil {
			return err
		}

		message, err := api.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s at %s\n", message.ID, formatTime(message.CreatedAt))
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <user-id>",
	Short: "Open an interactive conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		api, userID, err := authenticate(ctx)
		if err != nil {
			return err
		}
		peerID := args[0]

		history, err := api.History(ctx, peerID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var printMu sync.Mutex
		printed := make(map[string]struct{})
		printEntry := func(e client.Entry) {
			printMu.Lock()
			defer printMu.Unlock()
			if _, ok := printed[e.Message.ID]; ok || e.State != client.Confirmed {
				return
			}
			printed[e.Message.ID] = struct{}{}
			who := peerID
			if e.Message.SenderID == userID {
				who = "you"
			}
			fmt.Fprintf(out, "[%s] %s: %s\n", formatTime(e.Message.CreatedAt), who, e.Message.Text)
		}

		session := client.NewSession(userID, api,
			client.WithSendTimeout(viper.GetDuration("timeout")),
			client.WithLogger(newLogger()),
			client.WithOnChange(func(entries []client.Entry) {
				for _, e := range entries {
					printEntry(e)
				}
			}),
			client.WithOnError(func(err error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "not sent: %v\n", err)
			}),
		)
		session.Open(peerID, history.Messages)

		dial, err := client.NewWebSocketDialer(viper.GetString("server"), api.Token())
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return session.Run(ctx, dial)
		})
		g.Go(func() error {
			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case line, ok := <-lines:
					if !ok {
						stop()
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					// Ошибка уже показана через OnError
					_, _ = session.Send(ctx, line)
				}
			}
		})

		if err := g.Wait(); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
