package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pdfile/internal/ipc"
	"pdfile/internal/prompts"
)

const defaultLocalUser = "local"

func newSendCommand(ctx *commandContext) *cobra.Command {
	var userID, username, locale, filePath string

	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a chat message or upload as a local user",
		Long: `Send a chat message or upload as a local user.

The message is handled exactly like a Telegram message and the replies are
printed. Press a button by sending its label, for example:

  pdfile send Merge
  pdfile send --file a.pdf
  pdfile send --file b.pdf
  pdfile send "Merge files"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			path := strings.TrimSpace(filePath)
			if text == "" && path == "" {
				return errors.New("send requires text or --file")
			}
			if text != "" && path != "" {
				return errors.New("send takes either text or --file, not both")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Send(ipc.SendRequest{
					UserID:   userID,
					Username: username,
					Locale:   locale,
					Text:     text,
					FilePath: path,
				})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if resp.Prompts == nil {
						resp.Prompts = []prompts.Rendered{}
					}
					return writeJSON(cmd, resp)
				}
				printPrompts(cmd.OutOrStdout(), resp.Prompts)
				if resp.Error != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "rejected: %s\n", resp.Error)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", defaultLocalUser, "User id the message is sent as")
	cmd.Flags().StringVar(&username, "name", "", "Display name used in greetings")
	cmd.Flags().StringVar(&locale, "locale", "", "Language code of the user (en, ru)")
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Upload a local file instead of sending text")
	return cmd
}

func printPrompts(out io.Writer, rendered []prompts.Rendered) {
	for i, p := range rendered {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if p.Text != "" {
			fmt.Fprintln(out, p.Text)
		}
		if p.Attachment != "" {
			fmt.Fprintf(out, "Attachment: %s\n", p.Attachment)
		}
		if p.LinkURL != "" {
			fmt.Fprintf(out, "%s: %s\n", p.LinkLabel, p.LinkURL)
		}
		for _, row := range p.Keyboard {
			fmt.Fprintf(out, "[ %s ]\n", strings.Join(row, " | "))
		}
	}
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List running sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sessions()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if resp.Sessions == nil {
						resp.Sessions = []ipc.Session{}
					}
					return writeJSON(cmd, resp.Sessions)
				}
				out := cmd.OutOrStdout()
				if len(resp.Sessions) == 0 {
					fmt.Fprintln(out, "No running sessions")
					return nil
				}
				rows := make([][]string, 0, len(resp.Sessions))
				for _, s := range resp.Sessions {
					rows = append(rows, []string{
						s.UserID,
						s.Operation,
						s.State,
						fmt.Sprint(len(s.Files)),
						s.Range,
						formatDuration(time.Since(s.UpdatedAt)),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{textCol("User"), textCol("Operation"), textCol("State"), numCol("Files"), textCol("Pages"), numCol("Idle")},
					rows,
				))
				return nil
			})
		},
	}
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Return a user's session to idle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reset(args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				if resp.Reset {
					fmt.Fprintf(cmd.OutOrStdout(), "Session of %s reset\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "No running session for %s\n", args[0])
				}
				return nil
			})
		},
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}
