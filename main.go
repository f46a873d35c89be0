package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/linht/fm-tuner/panel"
	"github.com/linht/fm-tuner/plugins"
	"github.com/linht/fm-tuner/tuner"
	"golang.org/x/crypto/bcrypt"
)

// Configuration constants
const (
	// Server timeouts; a seek can take several seconds
	ServerReadTimeout  = 60 * time.Second
	ServerWriteTimeout = 60 * time.Second

	// Session management (24-hour expiry)
	SessionDuration = 24 * time.Hour
	TokenBytes      = 32
)

// Session represents a simple authenticated session for local use
type Session struct {
	Token     string
	ExpiresAt time.Time
}

var (
	config         Config
	currentSession *Session
	sessionMu      sync.RWMutex
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Setup structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(*configPath); err != nil {
		slog.Error("Linht FM Tuner stopped", "error", err)
		os.Exit(1)
	}
}

// run serves until a signal arrives or the server fails. Deferred calls
// release things in reverse: the panel stops first, then the plugins let go
// of the tuner, and only then is the tuner powered down.
func run(configPath string) error {
	// Load configuration
	if err := loadConfig(configPath); err != nil {
		return fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	slog.Info("Configuration loaded", "path", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bring up the tuner before anything can talk to it
	hw, err := startTuner(ctx, config.Tuner)
	if err != nil {
		return fmt.Errorf("%s bus: %w", config.Tuner.Bus, err)
	}
	defer stopTuner(hw)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  ServerReadTimeout,
		WriteTimeout: ServerWriteTimeout,
		AppName:      "Linht FM Tuner",
	})

	// Add logger middleware
	app.Use(fiberLogger.New(fiberLogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))

	// Serve static files
	app.Static("/", "./web")

	// Login/logout endpoints (no auth required for login)
	app.Post("/login", handleLogin)
	app.Post("/logout", handleLogout)

	// Auth middleware for all other API routes
	app.Use("/api", authMiddleware)

	// Initialize and register plugins
	loaded, err := initPlugins(app, hw.tuner)
	if err != nil {
		return fmt.Errorf("failed to initialize plugins: %w", err)
	}
	defer shutdownPlugins(loaded)

	if config.Panel.Enabled {
		panelDone, err := startPanel(ctx, loaded)
		if err != nil {
			return fmt.Errorf("failed to start front panel: %w", err)
		}
		defer func() {
			stop()
			<-panelDone
		}()
	}

	addr := config.Server.Host + ":" + config.Server.Port

	// Setup graceful shutdown
	go func() {
		<-ctx.Done()

		slog.Info("Shutting down server...")
		if err := app.ShutdownWithContext(context.Background()); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Starting Linht FM Tuner", "address", addr)
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server on %s: %w", addr, err)
	}
	return nil
}

func handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	// Check password
	if err := bcrypt.CompareHashAndPassword([]byte(config.Auth.PasswordHash), []byte(req.Password)); err != nil {
		slog.Warn("Failed login attempt", "ip", c.IP())
		return c.Status(401).JSON(fiber.Map{"error": "Invalid password"})
	}

	slog.Info("Successful login", "ip", c.IP())

	// Generate new session (replaces any existing session for local-only use)
	session := &Session{
		Token:     generateToken(),
		ExpiresAt: time.Now().Add(SessionDuration),
	}
	sessionMu.Lock()
	currentSession = session
	sessionMu.Unlock()

	return c.JSON(fiber.Map{
		"success": true,
		"token":   session.Token,
		"expires": session.ExpiresAt.Unix(),
	})
}

func handleLogout(c *fiber.Ctx) error {
	sessionMu.Lock()
	currentSession = nil
	sessionMu.Unlock()
	slog.Info("User logged out", "ip", c.IP())
	return c.JSON(fiber.Map{"success": true})
}

func authMiddleware(c *fiber.Ctx) error {
	// Check for token in header first, fallback to query parameter (for WebSocket)
	token := c.Get("X-Auth-Token")
	if token == "" {
		token = c.Query("token")
	}

	if !validateToken(token) {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return c.Next()
}

func validateToken(token string) bool {
	if token == "" {
		return false
	}

	sessionMu.RLock()
	defer sessionMu.RUnlock()

	if currentSession == nil {
		return false
	}

	if currentSession.Token != token {
		return false
	}

	return time.Now().Before(currentSession.ExpiresAt)
}

func generateToken() string {
	b := make([]byte, TokenBytes)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func initPlugins(app *fiber.App, t *tuner.Tuner) ([]plugins.Plugin, error) {
	var loaded []plugins.Plugin
	for _, name := range config.Plugins {
		factory, exists := plugins.Get(name)
		if !exists {
			slog.Warn("Unknown plugin", "name", name, "available", plugins.Names())
			continue
		}

		// Get plugin-specific config
		var pluginConfig interface{}
		switch name {
		case "radio":
			pluginConfig = map[string]interface{}{
				"tuner":            t,
				"presets_path":     config.Presets.Path,
				"refresh_interval": config.Status.RefreshInterval,
			}
		}

		plugin, err := factory(pluginConfig)
		if err != nil {
			shutdownPlugins(loaded)
			return nil, err
		}

		if radioPlugin, ok := plugin.(*plugins.RadioPlugin); ok {
			radioPlugin.SetTokenValidator(validateToken)
		}

		plugin.RegisterRoutes(app)
		loaded = append(loaded, plugin)
		slog.Info("Plugin loaded", "name", plugin.Name())
	}
	return loaded, nil
}

func shutdownPlugins(loaded []plugins.Plugin) {
	for _, p := range loaded {
		if err := p.Shutdown(); err != nil {
			slog.Error("Plugin shutdown error", "name", p.Name(), "error", err)
		}
	}
}

// startPanel feeds front panel events to the radio plugin until ctx is
// done. The returned channel is closed once the panel has stopped and its
// lines are released.
func startPanel(ctx context.Context, loaded []plugins.Plugin) (<-chan struct{}, error) {
	done := make(chan struct{})

	var radio *plugins.RadioPlugin
	for _, p := range loaded {
		if r, ok := p.(*plugins.RadioPlugin); ok {
			radio = r
		}
	}
	if radio == nil {
		slog.Warn("Front panel enabled without the radio plugin, ignoring")
		close(done)
		return done, nil
	}

	p, err := panel.OpenGPIO(config.Panel.GPIOChip, config.Panel.Pins, config.Panel.SampleInterval)
	if err != nil {
		return nil, err
	}
	slog.Info("Front panel opened", "panel", p.String())

	go func() {
		defer close(done)
		defer p.Close()
		if err := p.Run(ctx, radio.HandleEvent); err != nil && ctx.Err() == nil {
			slog.Error("Front panel stopped", "error", err)
		}
	}()
	return done, nil
}
