package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfnats "github.com/Strob0t/projectchat/internal/adapter/nats"
	"github.com/Strob0t/projectchat/internal/port/messagequeue"
)

var errNATSDisabled = errors.New("tail requires nats.enabled=true")

func tailCmd(flags *rootFlags) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow messages appended to a project's conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := uuid.Validate(projectID); err != nil {
				return fmt.Errorf("invalid project id %q", projectID)
			}
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if !cfg.NATS.Enabled {
				return errNATSDisabled
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer func() { _ = queue.Close() }()

			out := cmd.OutOrStdout()
			cancel, err := queue.Subscribe(ctx, messagequeue.MessageSubject(projectID), func(_ context.Context, _ string, data []byte) error {
				return printAppended(out, data)
			})
			if err != nil {
				return err
			}
			defer cancel()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project ID")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// printAppended writes one message-appended event as a transcript line.
func printAppended(w io.Writer, data []byte) error {
	var ev messagequeue.MessageAppendedPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode message event: %w", err)
	}
	role := ev.Role
	if ev.ToolName != "" {
		role += "(" + ev.ToolName + ")"
	}
	_, err := fmt.Fprintf(w, "%s #%d %s: %s\n", ev.CreatedAt.Format("15:04:05"), ev.Position, role, ev.Content)
	return err
}
