// Package main provides catalogctl, an operator CLI for the BiblioRed cache.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/logger"
)

// Globals holds flags shared by every command.
type Globals struct {
	DB       string `help:"Path to the cache database" env:"DATABASE_PATH" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)" default:"warn" enum:"debug,info,warn,error"`
	Config   string `help:"Path to YAML config file" env:"CONFIG_FILE" type:"path"`

	out io.Writer
}

// CLI represents the complete command structure for catalogctl.
type CLI struct {
	Globals

	Search   SearchCmd   `cmd:"" help:"Search the catalog through the cache and print the result as JSON"`
	Expire   ExpireCmd   `cmd:"" help:"Delete expired cached books"`
	Evict    EvictCmd    `cmd:"" help:"Delete cached books not read within the retention window"`
	Maintain MaintainCmd `cmd:"" help:"Run a full maintenance pass"`
	Stats    StatsCmd    `cmd:"" help:"Print cache statistics"`
	Popular  PopularCmd  `cmd:"" help:"Print the most searched terms"`
}

func main() {
	cli := CLI{Globals: Globals{out: os.Stdout}}

	ctx := kong.Parse(&cli,
		kong.Name("catalogctl"),
		kong.Description("Inspect and maintain the BiblioRed catalog cache."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "catalogctl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration the same way the server does, with the
// global flags taking precedence.
func (g *Globals) loadConfig() (*config.Config, error) {
	args := []string{"-log-level", g.LogLevel}
	if g.DB != "" {
		args = append(args, "-db", g.DB)
	}
	if g.Config != "" {
		args = append(args, "-config", g.Config)
	}
	return config.Load(args)
}

func (g *Globals) logger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Writer:      os.Stderr,
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
	})
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}
