// Package historycmder provides the history command, which prints the
// stored messages of a chat session from the aip API server.
package historycmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/api"
	"github.com/aip-agents/aip/cmd/aip/backend"
	"github.com/aip-agents/aip/pkg/chat"
	"github.com/aip-agents/aip/pkg/cliui"
	"github.com/aip-agents/aip/pkg/config"
	"github.com/aip-agents/aip/pkg/dotdir"
	"github.com/aip-agents/aip/pkg/logger"
	"github.com/aip-agents/aip/pkg/storage"
)

type historyCommander struct {
	apiTarget string
	limit     uint
	raw       bool
	debug     bool
	configDir string

	out    io.Writer
	logger *zap.Logger
}

const historyLongDesc string = `Print the message history of a chat session.

Fetches the newest messages of the session from the aip API server and
prints them oldest first. Without a session ID the session last used by
"aip chat" is shown. Agent replies are rendered as markdown unless --raw
is given.

Examples:
  aip history
  aip history 3f0c2a9e-0d7b-4e4f-9b43-2f1f3f9b8a10 --limit 10
  aip history --api-target http://api:8081 --raw`

const historyShortDesc string = "Print the messages of a chat session"

func NewHistoryCmd() *cobra.Command {
	cmder := &historyCommander{}

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: historyShortDesc,
		Long:  historyLongDesc,
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cfg, err := backend.LoadConfig(cmd, config.FlagAPITarget)
			if err != nil {
				return err
			}
			cmder.apiTarget = cfg.Client.APITarget
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.out = cmd.OutOrStdout()

			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}
			return cmder.run(cmd.Context(), sessionID)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().UintVarP(&cmder.limit, "limit", "n", 0, fmt.Sprintf("Number of messages to show (default %d, max %d)", chat.DefaultHistoryLimit, chat.MaxHistoryLimit))
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print message content without markdown rendering")

	return cmd
}

func (c *historyCommander) run(ctx context.Context, sessionID string) error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	if sessionID == "" {
		active, err := dotdir.NewManager().LoadActiveSession(c.configDir)
		if err != nil {
			return fmt.Errorf("loading active session: %w", err)
		}
		if active == nil {
			return errors.New("no session ID given and no active session; run \"aip chat\" first")
		}
		sessionID = active.SessionID
	}

	history, err := c.fetch(ctx, sessionID)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  %s %s %s\n\n",
		cliui.KeyStyle.Render("Session:"),
		cliui.ValueStyle.Render(history.SessionID),
		cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(history.Messages))),
	)

	if len(history.Messages) == 0 {
		fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("No messages yet."))
		return nil
	}

	for _, msg := range history.Messages {
		c.printMessage(msg)
	}
	return nil
}

func (c *historyCommander) fetch(ctx context.Context, sessionID string) (*api.MessagesResponse, error) {
	endpoint := strings.TrimRight(c.apiTarget, "/") + "/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if c.limit > 0 {
		endpoint += "?limit=" + strconv.FormatUint(uint64(c.limit), 10)
	}

	c.logger.Debug("fetching session history",
		zap.String("url", endpoint),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting history from %s: %w", c.apiTarget, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr chat.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	history := &api.MessagesResponse{}
	if err := json.NewDecoder(resp.Body).Decode(history); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return history, nil
}

func (c *historyCommander) printMessage(msg *storage.Message) {
	fmt.Fprintf(c.out, "  %s %s\n",
		cliui.RoleLabel(string(msg.Role)),
		cliui.DimStyle.Render(msg.CreatedAt.Local().Format(time.DateTime)),
	)

	content := msg.Content
	if msg.Role == storage.RoleAssistant && !c.raw {
		rendered, err := cliui.RenderMarkdown(content)
		if err != nil {
			c.logger.Debug("markdown rendering failed", zap.Error(err))
		}
		fmt.Fprint(c.out, rendered)
		return
	}

	fmt.Fprintf(c.out, "  %s\n\n", content)
}
