package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/opsboard/opsboard/internal/client"
	"github.com/opsboard/opsboard/internal/config"
	"github.com/opsboard/opsboard/internal/logging"
)

var (
	watchURL    string
	watchOrigin string
	watchExec   string
	watchFollow bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a server's reload channel",
	Long: `Connect to a running dashboard's socket and stay connected, reconnecting
with exponential backoff. When the server asks clients to reload, run the
--exec command once and exit, or reconnect and keep watching with --follow.
A clean close from the server also exits unless --follow is set.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "ws://127.0.0.1:8080/ws", "Socket URL")
	watchCmd.Flags().StringVar(&watchOrigin, "origin", "", "Origin header (derived from --url when empty)")
	watchCmd.Flags().StringVar(&watchExec, "exec", "", "Shell command to run on reload")
	watchCmd.Flags().BoolVar(&watchFollow, "follow", false, "Keep watching after a reload or a clean server close")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	log := logging.Component("watch")

	origin := watchOrigin
	if origin == "" {
		if origin, err = originFor(watchURL); err != nil {
			return err
		}
	}
	ccfg := clientConfig(cfg, origin)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &watcher{
		url:      watchURL,
		cfg:      ccfg,
		follow:   watchFollow,
		onReload: func() { runReloadCommand(ctx, watchExec) },
		log:      log,
	}
	return w.run(ctx)
}

type endReason int

const (
	endExhausted endReason = iota
	endServerClosed
)

// watcher runs one client per connection lifetime. A reload, or a clean
// close from the server, ends that lifetime; with follow set a fresh client
// takes over.
type watcher struct {
	url      string
	cfg      client.Config
	follow   bool
	onReload func()
	opts     []client.Option
	log      zerolog.Logger
}

func (w *watcher) run(ctx context.Context) error {
	for {
		ended := make(chan endReason, 1)
		end := func(r endReason) {
			select {
			case ended <- r:
			default:
			}
		}
		opts := append([]client.Option{
			client.WithNotifier(client.LogNotifier{Log: w.log}),
			client.OnStateChange(func(s client.State) {
				w.log.Debug().Stringer("state", s).Msg("connection state")
				if s == client.Exhausted {
					end(endExhausted)
				}
			}),
			client.OnClose(func(code int, retrying bool) {
				if !retrying {
					end(endServerClosed)
				}
			}),
			client.OnReload(w.onReload),
		}, w.opts...)
		c := client.New(w.url, w.cfg, opts...)
		c.Start()

		select {
		case <-ctx.Done():
			c.Close()
			return nil
		case <-c.Reloaded():
			c.Close()
			if !w.follow {
				return nil
			}
			w.log.Info().Msg("reload handled, reconnecting")
		case r := <-ended:
			err := c.LastError()
			c.Close()
			if r == endExhausted {
				return err
			}
			if !w.follow {
				w.log.Info().Msg("server closed the connection")
				return nil
			}
			w.log.Info().Dur("delay", w.cfg.Policy.Base).Msg("server closed the connection, reconnecting")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.Policy.Base):
			}
		}
	}
}

func clientConfig(cfg *config.Config, origin string) client.Config {
	header := http.Header{}
	header.Set("Origin", origin)
	return client.Config{
		Policy: client.Policy{
			Base:        cfg.Reconnect.BaseDelay,
			Max:         cfg.Reconnect.MaxDelay,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Jitter:      cfg.Reconnect.Jitter,
		},
		KeepaliveInterval: cfg.Reconnect.KeepaliveInterval,
		HandshakeTimeout:  cfg.Reconnect.HandshakeTimeout,
		ReloadGrace:       cfg.Reconnect.ReloadGrace,
		Header:            header,
	}
}

// originFor maps a socket URL to the page origin a browser would send.
func originFor(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse --url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("--url scheme %q is not ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("--url has no host")
	}
	return u.Scheme + "://" + u.Host, nil
}

func runReloadCommand(ctx context.Context, command string) {
	log := logging.Component("watch")
	if command == "" {
		log.Info().Msg("reload requested")
		return
	}
	c := exec.CommandContext(ctx, "sh", "-c", command)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		log.Error().Err(err).Str("command", command).Msg("reload command failed")
		return
	}
	log.Info().Str("command", command).Msg("reload command finished")
}
