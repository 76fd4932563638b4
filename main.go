package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"jwgl-scraper/captcha"
	"jwgl-scraper/config"
	"jwgl-scraper/scraper"
	"jwgl-scraper/site"
)

func main() {
	configFile := flag.String("config", "config.json", "path to the JSON config file")
	serve := flag.Bool("serve", false, "run the read API server instead of a one-shot fetch")
	year := flag.String("year", "", "academic year, e.g. 2023-2024")
	semester := flag.String("semester", "", "semester number, e.g. 1 or 2")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("loading config failed", "error", err)
		os.Exit(1)
	}
	if cfg.Username == "" || cfg.Password == "" {
		logger.Error("username and password must be configured")
		os.Exit(1)
	}

	solver := buildSolver(cfg, logger)

	session := scraper.NewSessionManager(cfg.BaseURL, cfg.SessionFile, cfg.SessionTimeout(), solver, logger)
	session.SetLoginCredentials(cfg.Username, cfg.Password)
	session.SetMaxRetries(cfg.MaxLoginRetries)
	session.SetAutoCaptcha(cfg.AutoCaptcha)

	client := scraper.NewClient(session, logger)

	if err := session.EnsureLoggedIn(); err != nil {
		logger.Error("login failed", "error", err)
		os.Exit(1)
	}

	if *serve {
		server := site.NewServer(client, logger)
		if err := server.Run(cfg.ServerPort, cfg.Environment == "production"); err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	units, err := client.FetchSchedule(*year, *semester)
	if err != nil {
		logger.Error("fetching schedule failed", "error", err)
		os.Exit(1)
	}
	if len(units) == 0 {
		fmt.Println("No course units found.")
		return
	}

	out, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		logger.Error("encoding schedule failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// buildSolver wires the captcha pipeline: optional OCR sidecar, optional
// MinIO archive for missed images, manual fallback when interactive.
func buildSolver(cfg *config.Config, logger *slog.Logger) *captcha.Solver {
	var recognizer captcha.Recognizer
	if cfg.OCREndpoint != "" {
		recognizer = captcha.NewOCRClient(cfg.OCREndpoint)
	}

	var archive *captcha.MinioArchive
	if cfg.MinIOEnabled {
		var err error
		archive, err = captcha.NewMinioArchive(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
		if err != nil {
			logger.Warn("captcha archive unavailable", "error", err)
		}
	}

	diag := captcha.NewDiagnostics(cfg.ScratchDir, archive, logger)
	return captcha.NewSolver(recognizer, cfg.Interactive, diag, logger)
}
