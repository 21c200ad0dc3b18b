// Package chatcmder provides the chat command for interactive chat with an
// agent through the aip relay.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/cmd/aip/backend"
	"github.com/aip-agents/aip/pkg/agent"
	"github.com/aip-agents/aip/pkg/chat"
	"github.com/aip-agents/aip/pkg/cliui"
	"github.com/aip-agents/aip/pkg/config"
	"github.com/aip-agents/aip/pkg/dotdir"
	"github.com/aip-agents/aip/pkg/logger"
	"github.com/aip-agents/aip/pkg/sse"
	"github.com/aip-agents/aip/pkg/utils"
	"github.com/aip-agents/aip/relay/header"
)

type chatCommander struct {
	relayTarget  string
	agentURL     string
	agentTimeout uint
	userID       string
	direct       bool
	newSession   bool
	debug        bool
	configDir    string

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	target    string
	sessionID string
	client    *agent.Client
	dotdir    *dotdir.Manager
	logger    *zap.Logger
}

var chatFlags = []string{
	config.FlagRelayTarget,
	config.FlagAgentURL,
	config.FlagAgentTimeout,
}

const chatLongDesc string = `Start an interactive chat session through the aip relay.

Each message is sent to the relay's /chat/stream endpoint and the agent's
reply is printed as it streams in. The relay stores both sides of every
completed turn.

The session is remembered in the .aip/ directory and resumed on the next
run against the same target. Use --new to start a fresh session, or type
/new during a chat. A failed or interrupted reply is dropped and the prompt
returns; Ctrl+C while a reply is streaming cancels just that reply.

With --direct the relay is bypassed and the agent is called at --agent-url.
Nothing is stored in that mode.

Examples:
  aip chat
  aip chat --relay-target http://relay:8080 --user alice
  aip chat --direct --agent-url http://localhost:8000`

const chatShortDesc string = "Interactive chat with an agent through the relay"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cfg, err := backend.LoadConfig(cmd, chatFlags...)
			if err != nil {
				return err
			}

			cmder.relayTarget = cfg.Client.RelayTarget
			cmder.agentURL = cfg.Agent.BaseURL
			cmder.agentTimeout = cfg.Agent.TimeoutSeconds
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayTarget, &cmder.relayTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagAgentURL, &cmder.agentURL)
	config.AddUintFlag(cmd, config.Flags, config.FlagAgentTimeout, &cmder.agentTimeout)
	cmd.Flags().StringVar(&cmder.userID, "user", "", "User ID to attribute new sessions to")
	cmd.Flags().BoolVar(&cmder.direct, "direct", false, "Talk to the agent directly instead of through the relay")
	cmd.Flags().BoolVar(&cmder.newSession, "new", false, "Start a new session instead of resuming the last one")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	c.target = c.relayTarget
	if c.direct {
		c.target = c.agentURL
	}
	c.client = agent.NewClient(agent.Config{
		BaseURL: c.target,
		Timeout: time.Duration(c.agentTimeout) * time.Second,
	}, c.logger)
	c.dotdir = dotdir.NewManager()

	if err := c.restoreSession(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "  %s %s\n\n",
		cliui.KeyStyle.Render("Target:"),
		cliui.ValueStyle.Render(c.client.BaseURL()),
	)
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /new starts over, /exit or Ctrl+D quits."))

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(c.out, cliui.UserPrompt+" ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit":
			fmt.Fprintln(c.out)
			return nil
		case "/new":
			if err := c.resetSession(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "  %s New conversation\n\n", cliui.DimStyle.Render("●"))
			continue
		}

		if _, err := c.turn(ctx, input); err != nil {
			fmt.Fprintln(c.out)
			fmt.Fprintf(c.errOut, "  %s %v\n\n", cliui.FailMark, err)
			continue
		}

		if err := c.saveSession(); err != nil {
			c.logger.Warn("could not save active session", zap.Error(err))
		}
		fmt.Fprint(c.out, "\n\n")
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

// turn sends one message and prints the reply as it streams. The reply is
// returned only when the agent finished it.
func (c *chatCommander) turn(ctx context.Context, text string) (string, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if c.direct && c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}

	req := agent.Request{
		Message:   text,
		SessionID: c.sessionID,
		Header:    http.Header{},
	}
	if !c.direct && c.userID != "" {
		req.Header.Set(header.UserIDHeader, c.userID)
	}

	c.logger.Debug("sending chat message",
		zap.String("target", c.target),
		zap.String("session_id", c.sessionID),
		zap.Bool("direct", c.direct),
	)

	resp, err := c.client.OpenStream(ctx, req)
	if err != nil {
		var se *agent.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound && c.sessionID != "" && !c.direct {
			stale := c.sessionID
			if rerr := c.resetSession(); rerr != nil {
				c.logger.Warn("could not clear active session", zap.Error(rerr))
			}
			return "", fmt.Errorf("session %s no longer exists, the next message starts a new one", utils.Truncate(stale, 12))
		}
		return "", err
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(header.SessionIDHeader); id != "" {
		c.sessionID = id
	}

	fmt.Fprint(c.out, cliui.AssistantPrompt+" ")
	acc := chat.NewAccumulator(func(delta string) {
		fmt.Fprint(c.out, delta)
	})
	summary, err := sse.Decode(ctx, resp.Body, acc.OnChunk, sse.WithLogger(c.logger))

	reply, err := acc.Result(summary, err)
	if errors.Is(err, sse.ErrAborted) {
		return "", errors.New("reply interrupted")
	}
	return reply, err
}

func (c *chatCommander) restoreSession() error {
	if c.newSession {
		if err := c.dotdir.ClearActiveSession(c.configDir); err != nil {
			return fmt.Errorf("clearing active session: %w", err)
		}
	} else {
		active, err := c.dotdir.LoadActiveSession(c.configDir)
		if err != nil {
			return fmt.Errorf("loading active session: %w", err)
		}
		if active != nil && active.Target == c.client.BaseURL() {
			c.sessionID = active.SessionID
		}
	}

	fmt.Fprintln(c.out)
	if c.sessionID != "" {
		fmt.Fprintf(c.out, "  %s Resuming session %s\n",
			cliui.SuccessMark,
			cliui.ValueStyle.Render(utils.Truncate(c.sessionID, 12)),
		)
	} else {
		fmt.Fprintf(c.out, "  %s New conversation\n", cliui.DimStyle.Render("●"))
	}
	return nil
}

func (c *chatCommander) saveSession() error {
	if c.sessionID == "" {
		return nil
	}
	return c.dotdir.SaveActiveSession(&dotdir.ActiveSession{
		SessionID: c.sessionID,
		Target:    c.client.BaseURL(),
	}, c.configDir)
}

func (c *chatCommander) resetSession() error {
	c.sessionID = ""
	return c.dotdir.ClearActiveSession(c.configDir)
}
