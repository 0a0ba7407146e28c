package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/havenhomes/chat-client/internal/cache"
	"github.com/havenhomes/chat-client/internal/channel"
	"github.com/havenhomes/chat-client/internal/chat"
	"github.com/havenhomes/chat-client/internal/config"
	"github.com/havenhomes/chat-client/internal/presence"
	"github.com/havenhomes/chat-client/internal/rest"
	"github.com/havenhomes/chat-client/internal/typing"
	"github.com/havenhomes/chat-client/shared/logger"
	"github.com/havenhomes/chat-client/shared/metrics"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	metrics.Init()
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Warnw("metrics server stopped", "err", err)
			}
		}()
	}

	api := rest.NewClient(rest.Config{
		BaseURL:         cfg.API.BaseURL,
		Token:           cfg.User.Token,
		Timeout:         cfg.APITimeout,
		RetryMaxElapsed: cfg.APIRetryElapsed,
		SendPerSecond:   cfg.API.SendPerSecond,
		SendBurst:       cfg.API.SendBurst,
		Logger:          log,
	})
	ch := channel.NewClient(channel.Options{
		URL:               cfg.Channel.URL,
		Token:             cfg.User.Token,
		HeartbeatInterval: cfg.Heartbeat,
		ReconnectBase:     cfg.ReconnectBase,
		ReconnectMax:      cfg.ReconnectMax,
		Logger:            log,
	})
	store := cache.New(log)
	tracker := presence.NewTracker()
	coordinator := typing.NewCoordinator(ch, cfg.TypingQuiet, cfg.TypingDecay, log)
	syncer := chat.NewSynchronizer(store, api, ch, coordinator, tracker, log)
	composer := chat.NewComposer(store, api, coordinator, cfg.User.ID, log)

	ch.OnStateChange(func(s channel.State) {
		log.Infow("channel state", "state", s)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncer.Start(ctx); err != nil {
		log.Fatalw("startup failed", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go repl(ctx, syncer, composer, tracker, coordinator, log)

	<-quit
	log.Infow("shutdown requested")
	syncer.Stop(ctx)
	coordinator.Close()
	_ = ch.Close()
}

// repl is a bare terminal front end over the client core:
//
//	/list                 show conversations
//	/open <conversation>  select a conversation
//	/who                  presence + typing for the open conversation
//	anything else         send as a message
func repl(ctx context.Context, syncer *chat.Synchronizer, composer *chat.Composer, tracker *presence.Tracker, coordinator *typing.Coordinator, log *zap.SugaredLogger) {
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "/list":
			for _, c := range syncer.Conversations() {
				fmt.Printf("%s  %s  unread=%d\n", c.ID, c.Counterpart.Name, c.UnreadCount)
			}
		case strings.HasPrefix(line, "/open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			syncer.Select(ctx, id)
			fmt.Println("opened", id)
		case line == "/who":
			id := syncer.Active()
			if id == "" {
				fmt.Println("no conversation open")
				continue
			}
			for _, c := range syncer.Conversations() {
				if c.ID != id {
					continue
				}
				if rec, ok := tracker.Get(c.Counterpart.ID); ok && rec.IsOnline {
					fmt.Println(c.Counterpart.Name, "is online")
				} else if rec.LastSeen != nil {
					fmt.Println(c.Counterpart.Name, "last seen", rec.LastSeen)
				} else {
					fmt.Println(c.Counterpart.Name, "is offline")
				}
			}
			for _, u := range coordinator.TypingUsers(id) {
				fmt.Println(u, "is typing...")
			}
		case line != "":
			id := syncer.Active()
			if id == "" {
				fmt.Println("open a conversation first: /open <id>")
				continue
			}
			coordinator.Keystroke(ctx, id)
			if _, err := composer.Send(ctx, id, line); err != nil {
				log.Warnw("send failed", "err", err)
			}
			for _, m := range syncer.Rendered(id) {
				marker := ""
				if m.Pending {
					marker = " (sending)"
				}
				fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04"), m.SenderID, m.Content, marker)
			}
		}
	}
}
