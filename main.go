// Command chatweave connects to Twitch EventSub as the local user and prints the
// chat of the configured channels. It:
//   - Loads configuration and initializes structured logging.
//   - Validates the user access token to learn the local identity and scopes.
//   - Runs the chat client until the connection ends or a signal arrives.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics
//     and the /control endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM. The client does not reconnect on its
// own; a lost connection exits non-zero so a supervisor can restart it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/client"
	"github.com/onnwee/chatweave/config"
	"github.com/onnwee/chatweave/console"
	"github.com/onnwee/chatweave/emoteapi"
	"github.com/onnwee/chatweave/eventsub"
	"github.com/onnwee/chatweave/metadata"
	"github.com/onnwee/chatweave/server"
	"github.com/onnwee/chatweave/telemetry"
	"github.com/onnwee/chatweave/twitchapi"
)

// scopeWriteChat is required to send messages; without it the client is read-only.
const scopeWriteChat = "user:write:chat"

// logSink logs channel membership changes.
type logSink struct{}

func (logSink) OnChannelJoined(s chat.SessionInfo) {
	slog.Info("channel joined", slog.String("component", "chat"), slog.String("channel", s.Login), slog.Int("subscriptions", len(s.Subscriptions)))
}

func (logSink) OnChannelParted(channelID string) {
	slog.Info("channel parted", slog.String("component", "chat"), slog.String("channel_id", channelID))
}

func (logSink) OnChannelMuteChanged(channelID string, muted bool) {
	slog.Debug("channel mute changed", slog.String("component", "chat"), slog.String("channel_id", channelID), slog.Bool("muted", muted))
}

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	// Logs go to stderr; stdout carries the chat itself.
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		return 1
	}
	if err := cfg.ValidateReady(); err != nil {
		slog.Error("config incomplete", slog.Any("err", err))
		return 1
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing(cfg.OTLPEndpoint, "chatweave", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return 1
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Identity and scopes of the user token
	oauthClient := &twitchapi.OAuthClient{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
	token := twitchapi.NewUserToken(cfg.TwitchAccessToken)
	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	info, err := token.Validate(vctx, oauthClient)
	cancel()
	if err != nil {
		slog.Error("access token validation failed", slog.Any("err", err))
		return 1
	}
	if info.ClientID != "" && info.ClientID != cfg.TwitchClientID {
		slog.Error("access token was issued to a different client id", slog.String("token_client_id", info.ClientID))
		return 1
	}
	if !cfg.ReadOnly && !info.HasScope(scopeWriteChat) {
		slog.Warn("token lacks chat write scope, sending disabled", slog.String("scope", scopeWriteChat))
		cfg.ReadOnly = true
	}
	expiresIn := time.Duration(info.ExpiresIn) * time.Second
	slog.Info("twitch identity validated",
		slog.String("login", info.Login),
		slog.String("user_id", info.UserID),
		slog.Time("expires_at", twitchapi.ComputeExpiry(info.ExpiresIn)))

	helix := twitchapi.NewHelixClient(cfg.TwitchClientID, token)
	helix.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	if cfg.HelixBaseURL != "" {
		helix.BaseURL = cfg.HelixBaseURL
	}
	emotes := emoteapi.New(cfg.EmotesBaseURL)
	emotes.HTTPClient = &http.Client{Timeout: 15 * time.Second}

	presenter := console.New(os.Stdout)
	presenter.NoColor = os.Getenv("NO_COLOR") != ""

	c := client.New(client.Params{
		Config:    cfg,
		Conn:      eventsub.New(cfg.EventSubURL),
		API:       helix,
		Resolver:  metadata.NewResolver(emotes, helix),
		Self:      chat.Identity{UserID: info.UserID, Login: info.Login},
		ExpiresIn: expiresIn,
		Validator: client.ValidatorFunc(func(ctx context.Context) (*twitchapi.TokenInfo, error) {
			return token.Validate(ctx, oauthClient)
		}),
		Presenter: presenter,
		Sink:      logSink{},
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	httpCtx, stopHTTP := context.WithCancel(ctx)
	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		if err := server.Start(httpCtx, c, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	runErr := c.Run(ctx)
	stopHTTP()
	<-httpDone

	if os.Getenv("REVOKE_ON_EXIT") == "1" {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := token.Revoke(rctx, oauthClient, cfg.TwitchClientID); err != nil {
			slog.Warn("token revoke failed", slog.Any("err", err))
		} else {
			slog.Info("access token revoked")
		}
		cancel()
	}

	switch {
	case runErr == nil, errors.Is(runErr, context.Canceled):
		slog.Info("shutting down")
		return 0
	default:
		slog.Error("client stopped", slog.Any("err", runErr))
		return 1
	}
}
