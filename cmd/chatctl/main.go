package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/chatrelay/internal/client"
	"github.com/danmuck/chatrelay/internal/logging"
	"github.com/spf13/cobra"
)

type options struct {
	serverInfo string
	host       string
	port       int
	names      []string
	timestamps bool
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Terminal client for the chat relay",
		Long: "Reads lines from stdin and relays them. \"/w <handle> <text>\" whispers, " +
			"\"/quit\" disconnects.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, in, out)
		},
	}
	cmd.Flags().StringVar(&opts.serverInfo, "server-info", client.DefaultServerInfoPath, "file whose first line names the server host")
	cmd.Flags().StringVar(&opts.host, "host", "", "server host (overrides --server-info)")
	cmd.Flags().IntVar(&opts.port, "port", client.DefaultPort, "server port")
	cmd.Flags().StringSliceVarP(&opts.names, "name", "n", nil, "handles to propose in order (prompted when exhausted)")
	cmd.Flags().BoolVar(&opts.timestamps, "timestamps", true, "append [HH:MM:SS] to outgoing lines")
	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	host := strings.TrimSpace(opts.host)
	if host == "" {
		host = client.LoadServerHost(opts.serverInfo)
	}
	var clientOpts []client.Option
	if opts.timestamps {
		clientOpts = append(clientOpts, client.WithTimestamps())
	}

	c, err := client.Dial(ctx, client.Address(host, opts.port), clientOpts...)
	if err != nil {
		return err
	}
	defer c.Close()

	input := bufio.NewScanner(in)
	handle, err := c.Negotiate(ctx, proposer(opts.names, input, out))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "joined as %s\n", handle)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for msg := range c.Messages() {
			fmt.Fprintln(out, msg)
		}
	}()

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- pump(c, input)
	}()

	select {
	case <-ctx.Done():
		_ = c.Close()
		<-printed
		return nil
	case <-printed:
		if err := c.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, client.ErrClosed) {
			return fmt.Errorf("connection lost: %w", err)
		}
		return nil
	case err := <-sendErr:
		_ = c.Close()
		<-printed
		return err
	}
}

// proposer uses the flag handles first, then prompts on stdin.
func proposer(names []string, input *bufio.Scanner, out io.Writer) func() (string, error) {
	fromFlags := client.Names(names...)
	return func() (string, error) {
		if name, err := fromFlags(); err == nil {
			return name, nil
		}
		fmt.Fprint(out, "handle: ")
		if !input.Scan() {
			if err := input.Err(); err != nil {
				return "", err
			}
			return "", client.ErrNoMoreNames
		}
		return strings.TrimSpace(input.Text()), nil
	}
}

// pump forwards stdin lines until EOF or /quit.
func pump(c *client.Client, input *bufio.Scanner) error {
	for input.Scan() {
		line := input.Text()
		cmd := parseCommand(line)
		var err error
		switch cmd.kind {
		case commandQuit:
			return nil
		case commandWhisper:
			err = c.Whisper(cmd.target, cmd.text)
		case commandSkip:
			continue
		default:
			err = c.Send(cmd.text)
		}
		if err != nil {
			return err
		}
	}
	return input.Err()
}

type commandKind int

const (
	commandSay commandKind = iota
	commandWhisper
	commandQuit
	commandSkip
)

type command struct {
	kind   commandKind
	target string
	text   string
}

func parseCommand(line string) command {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "", trimmed == "/w":
		return command{kind: commandSkip}
	case trimmed == "/quit":
		return command{kind: commandQuit}
	case strings.HasPrefix(trimmed, "/w "):
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "/w "))
		target, text, _ := strings.Cut(rest, " ")
		if target == "" {
			return command{kind: commandSkip}
		}
		return command{kind: commandWhisper, target: target, text: text}
	default:
		return command{kind: commandSay, text: line}
	}
}
