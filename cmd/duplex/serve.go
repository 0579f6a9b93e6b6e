package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/server"
	"github.com/YiuTerran/duplex/network/tcp"
	"github.com/YiuTerran/duplex/network/udp"
	"github.com/YiuTerran/duplex/network/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func serveCmd(cfg **Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Starts a chat server with a reliable and a fast channel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "bind",
				Aliases: []string{"b"},
				Usage:   "Reliable channel address, overrides server.reliable.addr",
			},
		},
		Action: func(ctx *cli.Context) error {
			c := *cfg
			if bind := ctx.String("bind"); bind != "" {
				c.Server.Reliable.Addr = bind
			}
			return runServer(ctx.Context, c)
		},
	}
}

func newServerKernels(c *Config) (reliable, fast network.Kernel) {
	switch c.Server.Reliable.Kind {
	case "ws":
		reliable = ws.NewKernel(c.Server.Reliable.Addr)
	default:
		reliable = tcp.NewKernel(c.Server.Reliable.Addr, tcp.MaxConnNum(c.Server.MaxConnNum))
	}
	if c.Server.Fast.Kind == "udp" {
		fast = udp.NewKernel(c.Server.Fast.Addr, udp.IdleTimeout(c.Server.UdpIdleTimeout))
	}
	return
}

// chatRoom 广播聊天，回显心跳
type chatRoom struct {
	s *server.Server
}

func (r *chatRoom) MessageReceived(conn *server.Connection, msg network.Message) {
	switch m := msg.(type) {
	case *Chat:
		nick, _ := server.Attribute[string](conn, "nick")
		if nick == "" {
			conn.SetAttribute("nick", m.From)
		}
		if err := r.s.Broadcast(m, nil); err != nil {
			log.Error("broadcast chat: %v", err)
		}
	case *Pulse:
		_ = conn.Send(m)
	}
}

func (r *chatRoom) ConnectionAdded(conn *server.Connection) {
	log.Info("%v joined, %d online", conn, len(r.s.Connections()))
}

func (r *chatRoom) ConnectionRemoved(conn *server.Connection) {
	nick, _ := server.Attribute[string](conn, "nick")
	log.Info("%v (%s) left", conn, nick)
}

func runServer(ctx context.Context, c *Config) error {
	codec, err := newCodec(c.Codec)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reliable, fast := newServerKernels(c)
	s, err := server.New(reliable, fast,
		server.WithName(c.Name),
		server.WithVersion(c.Version),
		server.WithCodec(codec),
		server.WithHandshakeTimeout(c.Server.HandshakeTimeout),
		server.WithMetrics(reg),
	)
	if err != nil {
		return err
	}
	room := &chatRoom{s: s}
	s.AddMessageListener(room, &Chat{}, &Pulse{})
	s.AddConnectionListener(room)
	if err = s.Start(); err != nil {
		return err
	}

	var adminServer *http.Server
	if c.Admin.Addr != "" {
		adminServer = &http.Server{
			Addr:              c.Admin.Addr,
			Handler:           newAdminRouter(s, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server: %v", err)
			}
		}()
		log.Info("admin api listening on %s", c.Admin.Addr)
	}

	<-ctx.Done()
	log.Info("shutting down")
	if adminServer != nil {
		_ = adminServer.Close()
	}
	return s.Close()
}
