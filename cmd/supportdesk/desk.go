package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"supportdesk/internal/auth"
	"supportdesk/internal/client"
	"supportdesk/internal/config"
	"supportdesk/internal/domain"
	"supportdesk/internal/filter"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// theme holds the colors of the terminal views.
type theme struct {
	Header lipgloss.Color
	AI     lipgloss.Color
	Staff  lipgloss.Color
	Urgent lipgloss.Color
	Hint   lipgloss.Color
}

var defaultTheme = theme{
	Header: lipgloss.Color("#5FAFD7"),
	AI:     lipgloss.Color("#00D787"),
	Staff:  lipgloss.Color("#FFAF00"),
	Urgent: lipgloss.Color("#FF005F"),
	Hint:   lipgloss.Color("#6C6C6C"),
}

func (t theme) header() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Header).Bold(true)
}

func (t theme) hint() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t theme) status(s domain.ConversationStatus) lipgloss.Style {
	st := lipgloss.NewStyle()
	if s == domain.ConversationUrgent {
		return st.Foreground(t.Urgent).Bold(true)
	}
	return st
}

func (t theme) handler(aiHandling bool) lipgloss.Style {
	if aiHandling {
		return lipgloss.NewStyle().Foreground(t.AI)
	}
	return lipgloss.NewStyle().Foreground(t.Staff)
}

// newAPIClient builds a REST client from the client section of the config.
func newAPIClient(cfg *config.Config) *client.Client {
	return client.New(client.Config{
		BaseURL: cfg.Client.BaseURL,
		Token:   cfg.Client.Token,
		Timeout: time.Duration(cfg.Client.TimeoutSeconds) * time.Second,
		Retries: explicit(cfg.Client.Retries),
		Logger:  logger,
	})
}

func conversationsCmd() *cobra.Command {
	var (
		query string
		key   string
	)
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := filter.ParseKey(key)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			api := newAPIClient(cfg)
			svc := client.NewConversations(api, nil)
			convs, err := svc.List(cmd.Context(), query, k)
			if err != nil {
				return describeAPIError(api, err)
			}
			renderConversations(cmd.OutOrStdout(), convs, time.Now(), defaultTheme)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive customer name search")
	cmd.Flags().StringVarP(&key, "filter", "f", "all", "one of: "+strings.Join(filterKeys(), ", "))
	return cmd
}

func filterKeys() []string {
	keys := filter.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

// renderConversations prints one aligned row per conversation.
func renderConversations(w io.Writer, convs []domain.ConversationSummary, now time.Time, t theme) {
	if len(convs) == 0 {
		fmt.Fprintln(w, t.hint().Render("no conversations match"))
		return
	}

	nameWidth := len("CUSTOMER")
	for _, c := range convs {
		nameWidth = max(nameWidth, lipgloss.Width(c.Name))
	}
	// Width includes padding, so each column gets two extra cells.
	col := func(width int) lipgloss.Style {
		return lipgloss.NewStyle().Width(width + 2).PaddingRight(2)
	}

	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
		col(4).Inherit(t.header()).Render("ID"),
		col(nameWidth).Inherit(t.header()).Render("CUSTOMER"),
		col(10).Inherit(t.header()).Render("STATUS"),
		col(6).Inherit(t.header()).Render("UNREAD"),
		col(8).Inherit(t.header()).Render("HANDLER"),
		col(16).Inherit(t.header()).Render("ACTIVITY"),
		t.header().Render("LAST MESSAGE"),
	))
	for _, c := range convs {
		handler := "staff"
		if c.IsAIHandling {
			handler = "ai"
		}
		activity := c.Time
		if !c.LastActivity.IsZero() {
			activity = humanize.RelTime(c.LastActivity, now, "ago", "from now")
		}
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
			col(4).Render(c.ID),
			col(nameWidth).Render(c.Name),
			col(10).Inherit(t.status(c.Status)).Render(string(c.Status)),
			col(6).Render(fmt.Sprint(c.Unread)),
			col(8).Inherit(t.handler(c.IsAIHandling)).Render(handler),
			col(16).Render(activity),
			truncate(c.LastMessage, 48),
		))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send a staff message to a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			api := newAPIClient(cfg)
			svc := client.NewConversations(api, nil)
			res, err := svc.Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return describeAPIError(api, err)
			}
			if !res.Accepted {
				fmt.Fprintln(cmd.OutOrStdout(), defaultTheme.hint().Render("not sent: a message is already in flight or the text is empty"))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent message %s to conversation %s\n", res.ID, args[0])
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	var (
		email    string
		remember bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reader := bufio.NewReader(os.Stdin)
			if email == "" {
				fmt.Print("Email: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				email = strings.TrimSpace(line)
			}
			password, err := promptPassword(reader)
			if err != nil {
				return err
			}

			form := auth.LoginForm{Email: email, Password: password, RememberMe: remember}
			if err := form.Validate(); err != nil {
				return err
			}

			api := newAPIClient(cfg)
			svc := client.NewConversations(api, nil)
			session, err := svc.Login(cmd.Context(), form)
			if err != nil {
				return describeAPIError(api, err)
			}

			cfg.Client.Token = session.ID
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			logger.Info("signed in", "email", session.Email, "config", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().BoolVar(&remember, "remember", false, "keep the session after restart")
	return cmd
}

// promptPassword reads a password with masked input, falling back to a
// plain line when stdin is not a terminal.
func promptPassword(reader *bufio.Reader) (string, error) {
	fmt.Print("Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describeAPIError adds a hint for the common failures of a CLI call.
func describeAPIError(api *client.Client, err error) error {
	var (
		apiErr *client.APIError
		netErr *net.OpError
	)
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
			return fmt.Errorf("%w (is 'supportdesk serve' running at %s?)", err, api.BaseURL())
		}
		return err
	}
	switch apiErr.StatusCode {
	case 401:
		return fmt.Errorf("%w (run 'supportdesk login' or check web.auth)", apiErr)
	case 404:
		return fmt.Errorf("%w (unknown conversation)", apiErr)
	}
	return apiErr
}
