package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autobank/receipt-backend/internal/mailer"
	"github.com/autobank/receipt-backend/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not load .env file", "error", err)
	}

	fs := ff.NewFlagSet("autobank")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "autobank.db", "Database file path")
		storageBackend = fs.StringLong("storage-backend", "local", "Attachment storage: 'local' or 'cloudinary'")
		storagePath    = fs.StringLong("storage", "./attachments", "Storage directory path for local storage")
		cldName        = fs.StringLong("cloudinary-cloud", "", "Cloudinary cloud name")
		cldKey         = fs.StringLong("cloudinary-key", "", "Cloudinary API key")
		cldSecret      = fs.StringLong("cloudinary-secret", "", "Cloudinary API secret")
		cldFolder      = fs.StringLong("cloudinary-folder", "receipts", "Cloudinary folder for attachments")
		jwtSecret      = fs.StringLong("jwt-secret", "", "HMAC secret for bearer tokens")
		jwtIssuer      = fs.StringLong("jwt-issuer", "", "Expected token issuer (optional)")
		jwtAudience    = fs.StringLong("jwt-audience", "", "Expected token audience (optional)")
		mailURL        = fs.StringLong("mail-api-url", mailer.DefaultZeptoMailURL, "ZeptoMail API URL")
		mailKey        = fs.StringLong("mail-api-key", "", "ZeptoMail API key; emails are only logged when empty")
		mailFrom       = fs.StringLong("mail-from", "", "Sender address for receipt emails")
		mailFromName   = fs.StringLong("mail-from-name", "Autobank", "Sender name for receipt emails")
		financeEmail   = fs.StringLong("finance-email", "", "Address receiving a copy of every receipt (optional)")
		notifyPolicy   = fs.StringLong("notify", "best-effort", "Email policy: 'best-effort' or 'required'")
		rateLimit      = fs.Float64Long("rate-limit", 5, "Requests per second per client IP, 0 disables")
		rateBurst      = fs.IntLong("rate-burst", 20, "Burst size per client IP")
		trustedProxies = fs.StringLong("trusted-proxy", "", "Comma separated proxy IPs or CIDRs whose X-Forwarded-For is honoured")
		committeesPath = fs.StringLong("committees", "", "YAML file of committees to seed (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("AUTOBANK"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	policy, err := receipt.ParseNotificationPolicy(*notifyPolicy)
	if err != nil {
		slog.Error("Invalid notification policy", "error", err)
		os.Exit(1)
	}

	verifier, err := receipt.NewJWTVerifier(*jwtSecret, *jwtIssuer, *jwtAudience)
	if err != nil {
		slog.Error("JWT secret is required. Set --jwt-secret or AUTOBANK_JWT_SECRET", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize storage
	var store receipt.Storage
	switch *storageBackend {
	case "local":
		slog.Info("Initializing local storage...", "path", *storagePath)
		store, err = receipt.NewLocalStorage(*storagePath)
	case "cloudinary":
		slog.Info("Initializing Cloudinary storage...", "cloud", *cldName, "folder", *cldFolder)
		store, err = receipt.NewCloudinaryStorage(*cldName, *cldKey, *cldSecret, *cldFolder)
	default:
		err = fmt.Errorf("unknown storage backend %q, valid: local or cloudinary", *storageBackend)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize notifier
	var notifier mailer.Notifier = mailer.LogNotifier{}
	if *mailKey != "" {
		notifier, err = mailer.NewZeptoMail(*mailURL, *mailKey, *mailFrom, *mailFromName)
		if err != nil {
			slog.Error("Failed to initialize mailer", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("No mail API key configured, receipt emails will only be logged")
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := receipt.NewMetrics(registry)
	if err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Initialize service
	receiptService := receipt.NewService(db, store, notifier, receipt.Options{
		NotificationPolicy: policy,
		FinanceAddress:     *financeEmail,
		Metrics:            metrics,
	})

	if *committeesPath != "" {
		committees, err := receipt.LoadCommitteesFile(*committeesPath)
		if err != nil {
			slog.Error("Failed to load committees", "error", err)
			os.Exit(1)
		}
		if err := receiptService.SeedCommittees(committees); err != nil {
			slog.Error("Failed to seed committees", "error", err)
			os.Exit(1)
		}
		slog.Info("Seeded committees", "count", len(committees))
	}

	proxies, err := receipt.ParseTrustedProxies(*trustedProxies)
	if err != nil {
		slog.Error("Invalid trusted proxy list", "error", err)
		os.Exit(1)
	}

	// Initialize server
	server := receipt.NewServer(receiptService, receipt.ServerConfig{
		Verifier: verifier,
		RateLimit: receipt.RateLimit{
			PerSecond:      *rateLimit,
			Burst:          *rateBurst,
			TrustedProxies: proxies,
		},
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting server", "address", addr, "version", version, "notify", policy)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
