// Command pubsub publishes to, subscribes to and pulls from a broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thejuampi/minibroker/client"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	addr     string
	timeout  time.Duration
	clientID int
}

func (g *globalFlags) dial(ctx context.Context) (*client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return client.Dial(dialCtx, g.addr,
		client.WithTimeout(g.timeout),
		client.WithClientID(g.clientID))
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "pubsub",
		Short:         "Publish to and read from a topic broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.addr, "addr", "127.0.0.1:8080", "broker address")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 5*time.Second, "dial and per-request timeout")
	root.PersistentFlags().IntVar(&g.clientID, "client-id", 0, "informational client ID sent with publishes")

	root.AddCommand(newPublishCmd(&g))
	root.AddCommand(newSubscribeCmd(&g))
	root.AddCommand(newGetCmd(&g))
	return root
}

func newPublishCmd(g *globalFlags) *cobra.Command {
	var messageID string
	var count int

	cmd := &cobra.Command{
		Use:   "publish TOPIC CONTENT",
		Short: "Publish a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if messageID != "" && count != 1 {
				return errors.New("--id publishes exactly one message")
			}
			topic, content := args[0], args[1]

			c, err := g.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			if messageID != "" {
				if err := c.PublishWithID(cmd.Context(), topic, content, messageID); err != nil {
					return err
				}
				pterm.Success.WithWriter(out).Printfln("published to %s (id %s)", topic, messageID)
				return nil
			}

			for i := 0; i < count; i++ {
				id, err := c.Publish(cmd.Context(), topic, content)
				if err != nil {
					return err
				}
				pterm.Success.WithWriter(out).Printfln("published to %s (id %s)", topic, id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&messageID, "id", "", "message ID (default: a random UUID)")
	cmd.Flags().IntVar(&count, "count", 1, "number of copies to publish, each under its own ID")
	return cmd
}

func newSubscribeCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "subscribe TOPIC...",
		Short: "Print pushed messages until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := g.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			for _, topic := range args {
				if err := c.Subscribe(ctx, topic); err != nil {
					return err
				}
				pterm.Info.WithWriter(out).Printfln("subscribed to %s", topic)
			}

			var received int
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-c.Messages():
					if !ok {
						return c.Err()
					}
					printMessage(out, msg)
					received++
					if limit > 0 && received >= limit {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "exit after this many messages (0 = no limit)")
	return cmd
}

func newGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get TOPIC",
		Short: "Pull the messages this connection has not seen yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			messages, err := c.GetMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(messages) == 0 {
				pterm.Info.WithWriter(out).Printfln("no messages on %s", args[0])
				return nil
			}

			data := pterm.TableData{{"Topic", "Message ID", "Content"}}
			for _, msg := range messages {
				data = append(data, []string{msg.Topic, msg.MessageID, msg.Content})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(out).Render()
		},
	}
}

func printMessage(out io.Writer, msg client.Message) {
	fmt.Fprintf(out, "%s %s %s\n",
		pterm.FgCyan.Sprint(msg.Topic),
		pterm.FgGray.Sprint(msg.MessageID),
		msg.Content)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
