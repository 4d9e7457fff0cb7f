// Package cli is the interactive maintenance console. It drives the same
// operations as the voice path and exists for bench testing the bridge
// without talking to the speaker.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"musicbridge/internal/domain/ports"
)

// Player is the orchestrator surface the console drives.
type Player interface {
	PlayByKeyword(ctx context.Context, keyword string)
	Stop(ctx context.Context) int
	RefreshAndReply(ctx context.Context, reason string) error
}

// Console reads commands from in and executes them until quit or EOF.
type Console struct {
	device ports.DeviceControl
	player Player
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
}

func New(device ports.DeviceControl, player Player, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		device: device,
		player: player,
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// StdinIsInteractive reports whether stdin is a character device. The
// console is disabled under pipes and service managers.
func StdinIsInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Run processes commands until quit, EOF or ctx cancellation. Device errors
// are printed, never fatal.
func (c *Console) Run(ctx context.Context) {
	fmt.Fprintln(c.out, "commands: say <text> | ask <text> | music <url> | local <kw> | stop | refresh | quit")
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !c.execute(ctx, scanner.Text()) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("console read failed", slog.String("error", err.Error()))
	}
}

// execute runs one command line and reports whether the loop continues.
func (c *Console) execute(ctx context.Context, line string) bool {
	command, arg := splitCommand(line)
	switch command {
	case "":
		return true
	case "quit", "exit":
		return false
	case "say":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: say <text>")
			return true
		}
		c.report(c.device.Speak(ctx, arg))
	case "ask":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: ask <text>")
			return true
		}
		c.report(c.device.Ask(ctx, arg))
	case "music":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: music <url>")
			return true
		}
		c.report(c.device.PlayURL(ctx, arg))
	case "local":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: local <keyword>")
			return true
		}
		c.player.PlayByKeyword(ctx, arg)
	case "stop":
		cleared := c.player.Stop(ctx)
		fmt.Fprintf(c.out, "cleared %d queued songs\n", cleared)
	case "refresh":
		_ = c.player.RefreshAndReply(ctx, "console")
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", command)
	}
	return true
}

func (c *Console) report(err error) {
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

func splitCommand(line string) (command, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	if idx := strings.IndexAny(line, " \t"); idx >= 0 {
		return strings.ToLower(line[:idx]), strings.TrimSpace(line[idx+1:])
	}
	return strings.ToLower(line), ""
}
