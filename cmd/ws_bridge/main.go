package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/m4xw311/kernelio/config"
	"github.com/m4xw311/kernelio/envelope"
	"github.com/m4xw311/kernelio/logging"
	"github.com/m4xw311/kernelio/relay"
	"github.com/m4xw311/kernelio/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bridge starts one kernel per WebSocket connection.
type bridge struct {
	cfg      *config.Config
	notebook string
	command  []string
	logger   zerolog.Logger

	// externalURI, when set, is announced to every kernel once it is ready.
	externalURI *url.URL
}

func main() {
	fs := pflag.NewFlagSet("ws_bridge", pflag.ExitOnError)
	addr := fs.String("addr", ":8080", "Address to listen on")
	configPath := fs.String("config", "", "Configuration file (defaults to .kernelio/config.yaml lookup)")
	notebook := fs.String("notebook", "", "Notebook the kernels serve")
	externalURI := fs.String("external-uri", "", "Externally reachable URI announced to each kernel's HTTP API")
	fs.Parse(os.Args[1:])

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg = config.Default()
		err = config.LoadFile(*configPath, cfg)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	b := &bridge{
		cfg:      cfg,
		notebook: *notebook,
		command:  fs.Args(),
		logger:   logging.New(logging.Options{Level: cfg.Log.Level, App: "ws_bridge"}),
	}
	if *externalURI != "" {
		u, err := url.Parse(*externalURI)
		if err != nil || !u.IsAbs() {
			fmt.Fprintf(os.Stderr, "Invalid external uri '%s'\n", *externalURI)
			os.Exit(1)
		}
		b.externalURI = u
	}

	b.logger.Info().Msgf("WebSocket server running on ws://localhost%s/ws", *addr)
	if err := http.ListenAndServe(*addr, b.routes()); err != nil {
		b.logger.Fatal().Err(err).Msg("server stopped")
	}
}

func (b *bridge) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (b *bridge) launch() transport.ProcessStart {
	start := b.cfg.ProcessStartFor(b.notebook)
	if len(b.command) > 0 {
		start.Command = b.command[0]
		start.Args = append([]string(nil), b.command[1:]...)
	}
	return start
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}

func (b *bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error().Err(err).Msg("Upgrade error")
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := b.logger.With().Str("remote", r.RemoteAddr).Logger()
	t := transport.New(transport.Options{
		NotebookPath:  b.notebook,
		ProcessStart:  b.launch(),
		Channel:       logging.NewChannel(logger, b.notebook),
		Notifier:      logging.NewNotifier(logger),
		TunnelTimeout: b.cfg.Tunnel.Timeout,
	})
	defer t.Close()

	sub := t.SubscribeToKernelEvents(func(e *envelope.Event) {
		if err := ws.writeJSON(e); err != nil {
			logger.Debug().Err(err).Msg("WS write error")
		}
	})
	defer sub.Dispose()

	if err := t.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Error starting kernel")
		ws.close(websocket.CloseInternalServerErr, "kernel failed to start")
		return
	}
	if err := t.WaitForReady(ctx); err != nil {
		logger.Error().Err(err).Msg("Kernel never became ready")
		ws.close(websocket.CloseInternalServerErr, "kernel exited")
		return
	}
	if b.externalURI != nil {
		go func() {
			if err := t.SetExternalURI(ctx, b.externalURI); err != nil {
				logger.Error().Err(err).Msg("Error configuring tunnel")
			}
		}()
	}

	go func() {
		select {
		case <-t.Exited():
			ws.close(websocket.CloseGoingAway, "kernel exited")
			conn.Close()
		case <-ctx.Done():
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("WS read ended")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if failed := relay.Submit(ctx, t, msg, nil); failed != nil {
			e, err := envelope.NewEvent(envelope.CommandFailedType, failed)
			if err != nil {
				continue
			}
			if err := ws.writeJSON(e); err != nil {
				logger.Debug().Err(err).Msg("WS write error")
				return
			}
		}
	}
}
