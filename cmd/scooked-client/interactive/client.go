// Package interactive provides the interactive command-line interface
// for the scooked client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/scooked-app/scooked-go/pkg/service"
	"github.com/scooked-app/scooked-go/pkg/session"
)

// ClientConfig provides configuration information to the interactive
// client. This interface keeps the interactive layer independent of
// the main package's config structure.
type ClientConfig interface {
	// Scope returns the scope this client participates in.
	Scope() string

	// SessionDuration returns the configured session length.
	SessionDuration() time.Duration
}

// Client handles interactive mode for scooked-client.
type Client struct {
	svc    *service.ClientService
	config ClientConfig
	rl     *readline.Instance
}

// New creates a new interactive client handler.
func New(svc *service.ClientService, cfg ClientConfig) (*Client, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "scooked> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Client{
		svc:    svc,
		config: cfg,
		rl:     rl,
	}, nil
}

// Stdout returns a writer that coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Client) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that coordinates with the readline input.
func (c *Client) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Client) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "connect", "c":
			c.cmdConnect()

		case "disconnect", "d":
			c.cmdDisconnect()

		case "status", "s":
			c.cmdStatus()

		case "identity":
			c.cmdIdentity()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Client) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Scooked Client Commands:
  Session:
    connect      - Start a session (resets the countdown if one is active)
    disconnect   - End the session immediately
    status       - Show session and store status

  General:
    identity     - Show the identity token
    help         - Show this help
    quit         - Exit client`)
}

// cmdConnect handles the connect command.
func (c *Client) cmdConnect() {
	if err := c.svc.Connect(); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}

	endTime, ok := c.svc.EndTime()
	if !ok {
		fmt.Fprintln(c.rl.Stdout(), "Session started")
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Session started: %s remaining, ends at %s\n",
		formatRemaining(c.svc.Remaining()), endTime.Format("15:04:05"))
}

// cmdDisconnect handles the disconnect command.
func (c *Client) cmdDisconnect() {
	if err := c.svc.Disconnect(); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "Session ended")
}

// cmdStatus handles the status command.
func (c *Client) cmdStatus() {
	out := c.rl.Stdout()

	fmt.Fprintln(out, "\nClient Status")
	fmt.Fprintln(out, "-------------------------------------------")
	fmt.Fprintf(out, "  Scope:            %s\n", c.config.Scope())
	fmt.Fprintf(out, "  Session duration: %s\n", c.config.SessionDuration())

	if token := c.svc.Identity(); token != "" {
		fmt.Fprintf(out, "  Identity:         %s\n", token)
	} else {
		fmt.Fprintln(out, "  Identity:         (unresolved)")
	}

	if c.svc.LocalOnly() {
		fmt.Fprintln(out, "  Store:            local-only (countdowns are not shared)")
	} else {
		fmt.Fprintf(out, "  Store:            %s\n", c.svc.StoreAddress())
	}

	state := c.svc.SessionState()
	fmt.Fprintf(out, "  Session:          %s\n", state)
	if state == session.StateConnected {
		if endTime, ok := c.svc.EndTime(); ok {
			fmt.Fprintf(out, "  Remaining:        %s (ends at %s)\n",
				formatRemaining(c.svc.Remaining()), endTime.Format("15:04:05"))
		}
	}
	fmt.Fprintln(out)
}

// cmdIdentity handles the identity command.
func (c *Client) cmdIdentity() {
	if token := c.svc.Identity(); token != "" {
		fmt.Fprintln(c.rl.Stdout(), token)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "No identity resolved (running local-only)")
}

// formatRemaining renders whole seconds as m:ss, or h:mm:ss for long
// sessions.
func formatRemaining(seconds int64) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
