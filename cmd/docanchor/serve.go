package main

import (
	"fmt"

	"github.com/FocuswithJustin/docanchor/internal/api"
)

// ServeCmd starts the REST API server.
type ServeCmd struct {
	Port           int      `help:"HTTP server port" default:"8081" env:"DOCANCHOR_PORT"`
	TLSCert        string   `name:"tls-cert" help:"TLS certificate file" type:"path"`
	TLSKey         string   `name:"tls-key" help:"TLS private key file" type:"path"`
	MaxUpload      int64    `name:"max-upload" help:"Maximum upload size in bytes (0 = 256 MiB)"`
	Author         string   `help:"Default comment author" env:"DOCANCHOR_AUTHOR"`
	MaxParagraphs  int      `name:"max-paragraphs" help:"Only search the first N paragraphs (0 = all)"`
	Strict         bool     `help:"Never fall back to whole-paragraph comments"`
	APIKey         string   `name:"api-key" help:"Require this key in X-API-Key" env:"DOCANCHOR_API_KEY"`
	RateLimit      int      `name:"rate-limit" help:"Requests per minute per client (0 = unlimited)"`
	RateBurst      int      `name:"rate-burst" help:"Burst size for rate limiting" default:"10"`
	AllowedOrigins []string `name:"allowed-origin" help:"Allowed CORS and websocket origin (repeatable)"`
}

func (c *ServeCmd) config(g *Globals) (api.Config, error) {
	cfg := api.Config{
		Port:              c.Port,
		Version:           version,
		StoreDir:          g.Store,
		JournalPath:       g.Journal,
		MaxUpload:         c.MaxUpload,
		DefaultAuthor:     c.Author,
		MaxParagraphs:     c.MaxParagraphs,
		Strict:            c.Strict,
		RateLimitRequests: c.RateLimit,
		RateLimitBurst:    c.RateBurst,
		AllowedOrigins:    c.AllowedOrigins,
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return cfg, fmt.Errorf("--tls-cert and --tls-key must be given together")
	}
	if c.TLSCert != "" {
		cfg.TLS = api.TLSConfig{Enabled: true, CertFile: c.TLSCert, KeyFile: c.TLSKey}
	}
	if c.APIKey != "" {
		cfg.Auth = api.AuthConfig{Enabled: true, APIKey: c.APIKey}
		if err := api.ValidateAuthConfig(cfg.Auth); err != nil {
			return cfg, fmt.Errorf("%w (%s)", err, api.GenerateAPIKeyExample())
		}
	}
	return cfg, nil
}

func (c *ServeCmd) Run(g *Globals) error {
	if g.Ephemeral {
		return fmt.Errorf("serve needs the store and journal; drop --ephemeral")
	}
	cfg, err := c.config(g)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return api.Start(ctx, cfg)
}
