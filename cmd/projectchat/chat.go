package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/logger"
)

func chatCmd(flags *rootFlags) *cobra.Command {
	var projectID, userID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a project's conversation from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			log, closeLog := logger.New(cfg.Logging)
			defer closeLog.Close()
			slog.SetDefault(log)

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if userID == "" {
				userID = cfg.Auth.DefaultUser
			}
			p, err := a.projects.GetOwned(ctx, projectID, userID)
			if err != nil {
				return fmt.Errorf("project %s: %w", projectID, err)
			}

			send := func(line string) (string, error) {
				msg, err := a.convs.SubmitMessage(ctx, p.ID, conversation.SendMessageRequest{Content: line})
				if err != nil {
					return "", err
				}
				return msg.Content, nil
			}

			fd := int(os.Stdin.Fd())
			if term.IsTerminal(fd) {
				return chatTerminal(ctx, fd, p.Name, send)
			}
			return chatLines(os.Stdin, cmd.OutOrStdout(), send)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project ID")
	cmd.Flags().StringVar(&userID, "user", "", "acting user (default: auth.default_user)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

type sendFunc func(line string) (string, error)

// chatTerminal runs an interactive prompt with line editing.
func chatTerminal(ctx context.Context, fd int, name string, send sendFunc) error {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, name+"> ")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		reply, err := send(line)
		if err != nil {
			fmt.Fprintf(t, "error: %v\r\n", err)
			continue
		}
		fmt.Fprintf(t, "%s\r\n", reply)
	}
}

// chatLines submits each non-empty input line and prints the reply.
func chatLines(in io.Reader, out io.Writer, send sendFunc) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), conversation.MaxContentLength+1)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		reply, err := send(line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
	}
	return sc.Err()
}
