package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/client"
	"github.com/YiuTerran/duplex/network/tcp"
	"github.com/YiuTerran/duplex/network/udp"
	"github.com/YiuTerran/duplex/network/ws"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func connectCmd(cfg **Config) *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Joins a chat server, lines read from stdin are sent as chat messages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nick",
				Aliases: []string{"n"},
				Usage:   "Nick name shown to others, random when empty",
			},
		},
		Action: func(ctx *cli.Context) error {
			c := *cfg
			if nick := ctx.String("nick"); nick != "" {
				c.Client.Nick = nick
			}
			if c.Client.Nick == "" {
				c.Client.Nick = uuid.NewString()[:8]
			}
			return runClient(ctx.Context, c, os.Stdin, ctx.App.Writer)
		},
	}
}

func dialConnectors(c *Config) (reliable, fast network.Connector, err error) {
	switch c.Client.Reliable.Kind {
	case "ws":
		reliable, err = ws.Dial(c.Client.Reliable.Addr)
	default:
		reliable, err = tcp.Dial(c.Client.Reliable.Addr, tcp.ConnectRetry(c.Client.ConnectRetry))
	}
	if err != nil {
		return nil, nil, err
	}
	if c.Client.Fast.Kind == "udp" {
		if fast, err = udp.Dial(c.Client.Fast.Addr, 0); err != nil {
			_ = reliable.Close()
			return nil, nil, err
		}
	}
	return reliable, fast, nil
}

type printer struct {
	out  io.Writer
	nick string
}

func (p *printer) MessageReceived(_ *client.Client, msg network.Message) {
	switch m := msg.(type) {
	case *Chat:
		if m.From != p.nick {
			_, _ = fmt.Fprintf(p.out, "[%s] %s\n", m.From, m.Text)
		}
	case *Pulse:
		log.Debug("pulse %d rtt %v", m.Seq, time.Since(time.Unix(0, m.SentAt)))
	}
}

func runClient(ctx context.Context, c *Config, in io.Reader, out io.Writer) error {
	codec, err := newCodec(c.Codec)
	if err != nil {
		return err
	}
	reliable, fast, err := dialConnectors(c)
	if err != nil {
		return err
	}
	cl := client.New(reliable, fast,
		client.WithName(c.Name),
		client.WithVersion(c.Version),
		client.WithCodec(codec),
	)
	cl.AddMessageListener(&printer{out: out, nick: c.Client.Nick}, &Chat{}, &Pulse{})
	if err = cl.Start(); err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err = cl.WaitForConnected(waitCtx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	_, _ = fmt.Fprintf(out, "connected as %s (#%d)\n", c.Client.Nick, cl.ID())

	if c.Client.PulseInterval > 0 && fast != nil {
		go pulse(ctx, cl, c.Client.PulseInterval)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			if err := cl.Send(&Chat{From: c.Client.Nick, Text: line}); err != nil {
				return err
			}
		}
	}
}

func pulse(ctx context.Context, cl *client.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			seq++
			if err := cl.Send(&Pulse{Seq: seq, SentAt: now.UnixNano()}); err != nil {
				return
			}
		}
	}
}
