// Command openviking is the CLI for the OpenViking context database.
//
// Usage:
//
//	openviking serve --config config.json
//	openviking add ./docs/guide.pdf
//	openviking find "token refresh flow" --scope viking://resources
//	openviking search "how do I rotate the signing key?"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/retrieval"
	"github.com/openviking/openviking/pkg/server"
	"github.com/openviking/openviking/pkg/service"
	"github.com/openviking/openviking/pkg/uri"
)

// Exit codes by error kind.
const (
	exitOK           = 0
	exitInvalidInput = 2
	exitNotFound     = 3
	exitIO           = 4
	exitBackend      = 5
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Add      AddCmd      `cmd:"" help:"Ingest a document as a resource."`
	AddSkill AddSkillCmd `cmd:"" name:"add-skill" help:"Store a skill directory."`
	Find     FindCmd     `cmd:"" help:"Retrieve contexts for a query."`
	Search   SearchCmd   `cmd:"" help:"Retrieve contexts for a conversation message."`
	Ls       LsCmd       `cmd:"" help:"List a directory."`
	Tree     TreeCmd     `cmd:"" help:"List a directory recursively."`
	Cat      CatCmd      `cmd:"" help:"Print a file."`
	Abstract AbstractCmd `cmd:"" help:"Print a directory's abstract."`
	Overview OverviewCmd `cmd:"" help:"Print a directory's overview."`
	Rm       RmCmd       `cmd:"" help:"Remove a file or directory."`
	Mv       MvCmd       `cmd:"" help:"Move a file or directory."`
	Link     LinkCmd     `cmd:"" help:"Add relations to a context."`
	Unlink   UnlinkCmd   `cmd:"" help:"Remove relations from a context."`
	Status   StatusCmd   `cmd:"" help:"Show semantic queue status."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"warn"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// open builds the service from the resolved config.
func (cli *CLI) open() (*service.Service, error) {
	path, err := config.ResolvePath(cli.Config)
	if err != nil {
		return nil, errdefs.InvalidInput("", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, errdefs.InvalidInput(path, err)
	}
	return service.New(cfg, logger.GetLogger())
}

// withService runs fn against a freshly opened service.
func (cli *CLI) withService(fn func(ctx context.Context, svc *service.Service) error) error {
	svc, err := cli.open()
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, svc)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("openviking %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server alongside the semantic worker.
type ServeCmd struct {
	Host string `help:"Listen host (overrides config)."`
	Port int    `help:"Listen port (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	path, err := config.ResolvePath(cli.Config)
	if err != nil {
		return errdefs.InvalidInput("", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return errdefs.InvalidInput(path, err)
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	log := logger.GetLogger()
	svc, err := service.New(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Recover(ctx); err != nil {
		return err
	}
	go func() {
		if err := svc.Processor().Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("semantic worker stopped", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return server.New(svc, log).Run(ctx, addr)
}

// AddCmd ingests one document.
type AddCmd struct {
	Path string `arg:"" help:"Document to ingest." type:"path"`
	Wait bool   `help:"Block until semantic processing finishes."`
}

func (c *AddCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			return errdefs.InvalidInput(c.Path, err)
		}
		target, err := svc.AddResource(ctx, filepath.Base(c.Path), data)
		if err != nil {
			return err
		}
		if c.Wait {
			if err := svc.Processor().Drain(ctx); err != nil {
				return err
			}
		}
		fmt.Println(target.String())
		return nil
	})
}

// AddSkillCmd stores a directory of skill files.
type AddSkillCmd struct {
	Name string `arg:"" help:"Skill name."`
	Dir  string `arg:"" help:"Directory holding the skill files." type:"path"`
	Wait bool   `help:"Block until semantic processing finishes."`
}

func (c *AddSkillCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		files := make(map[string][]byte)
		err := filepath.WalkDir(c.Dir, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(c.Dir, p)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			files[filepath.ToSlash(rel)] = data
			return nil
		})
		if err != nil {
			return errdefs.InvalidInput(c.Dir, err)
		}
		target, err := svc.AddSkill(ctx, c.Name, files)
		if err != nil {
			return err
		}
		if c.Wait {
			if err := svc.Processor().Drain(ctx); err != nil {
				return err
			}
		}
		fmt.Println(target.String())
		return nil
	})
}

// FindCmd retrieves without query understanding.
type FindCmd struct {
	Query string `arg:"" help:"Search query."`
	Scope string `help:"Restrict to a viking:// subtree."`
	TopK  int    `name:"top-k" help:"Max results." default:"10"`
}

func (c *FindCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		var scope *uri.URI
		if c.Scope != "" {
			u, err := uri.Parse(c.Scope)
			if err != nil {
				return err
			}
			scope = &u
		}
		matches, err := svc.Find(ctx, c.Query, scope, c.TopK)
		if err != nil {
			return err
		}
		return printJSON(matches)
	})
}

// SearchCmd runs the full retrieval pipeline on one message.
type SearchCmd struct {
	Message  string `arg:"" help:"Conversation message."`
	TopK     int    `name:"top-k" help:"Max results." default:"10"`
	Thinking bool   `help:"Enable reranked thinking mode."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		mode := retrieval.ModeFast
		if c.Thinking {
			mode = retrieval.ModeThinking
		}
		matches, err := svc.Search(ctx, c.Message, "", nil, c.TopK, mode)
		if err != nil {
			return err
		}
		return printJSON(matches)
	})
}

// LsCmd lists a directory.
type LsCmd struct {
	URI       string `arg:"" help:"Directory URI."`
	Abstracts bool   `help:"Include directory abstracts."`
}

func (c *LsCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		u, err := uri.Parse(c.URI)
		if err != nil {
			return err
		}
		entries, err := svc.FS().Ls(ctx, u, c.Abstracts)
		if err != nil {
			return err
		}
		return printJSON(entries)
	})
}

// TreeCmd lists a directory recursively.
type TreeCmd struct {
	URI       string `arg:"" help:"Directory URI."`
	Depth     int    `help:"Max depth (0 = unlimited)." default:"0"`
	Abstracts bool   `help:"Include directory abstracts."`
}

func (c *TreeCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		u, err := uri.Parse(c.URI)
		if err != nil {
			return err
		}
		tree, err := svc.FS().Tree(ctx, u, c.Depth, c.Abstracts)
		if err != nil {
			return err
		}
		return printJSON(tree)
	})
}

// CatCmd prints a file.
type CatCmd struct {
	URI string `arg:"" help:"File URI."`
}

func (c *CatCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		u, err := uri.Parse(c.URI)
		if err != nil {
			return err
		}
		data, err := svc.FS().Read(ctx, u)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	})
}

// AbstractCmd prints a directory's L0 text.
type AbstractCmd struct {
	URI string `arg:"" help:"Directory URI."`
}

func (c *AbstractCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		u, err := uri.Parse(c.URI)
		if err != nil {
			return err
		}
		text, err := svc.FS().Abstract(ctx, u)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	})
}

// OverviewCmd prints a directory's L1 text.
type OverviewCmd struct {
	URI string `arg:"" help:"Directory URI."`
}

func (c *OverviewCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		u, err := uri.Parse(c.URI)
		if err != nil {
			return err
		}
		text, err := svc.FS().Overview(ctx, u)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	})
}

// RmCmd removes a file or directory.
type RmCmd struct {
	URI       string `arg:"" help:"URI to remove."`
	Recursive bool   `short:"r" help:"Remove directories recursively."`
}

func (c *RmCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		u, err := uri.Parse(c.URI)
		if err != nil {
			return err
		}
		return svc.FS().Rm(ctx, u, c.Recursive)
	})
}

// MvCmd moves a file or directory.
type MvCmd struct {
	Src string `arg:"" help:"Source URI."`
	Dst string `arg:"" help:"Destination URI."`
}

func (c *MvCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		src, err := uri.Parse(c.Src)
		if err != nil {
			return err
		}
		dst, err := uri.Parse(c.Dst)
		if err != nil {
			return err
		}
		return svc.FS().Mv(ctx, src, dst)
	})
}

// LinkCmd adds relations.
type LinkCmd struct {
	URI     string   `arg:"" help:"Context URI."`
	Targets []string `arg:"" help:"Target URIs."`
	Reason  string   `help:"Why the contexts are related."`
}

func (c *LinkCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		from, targets, err := parseRelationArgs(c.URI, c.Targets)
		if err != nil {
			return err
		}
		return svc.FS().Link(ctx, from, targets, c.Reason)
	})
}

// UnlinkCmd removes relations.
type UnlinkCmd struct {
	URI     string   `arg:"" help:"Context URI."`
	Targets []string `arg:"" help:"Target URIs."`
}

func (c *UnlinkCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		from, targets, err := parseRelationArgs(c.URI, c.Targets)
		if err != nil {
			return err
		}
		return svc.FS().Unlink(ctx, from, targets)
	})
}

func parseRelationArgs(rawFrom string, rawTargets []string) (uri.URI, []uri.URI, error) {
	from, err := uri.Parse(rawFrom)
	if err != nil {
		return uri.URI{}, nil, err
	}
	targets := make([]uri.URI, 0, len(rawTargets))
	for _, t := range rawTargets {
		u, err := uri.Parse(t)
		if err != nil {
			return uri.URI{}, nil, err
		}
		targets = append(targets, u)
	}
	return from, targets, nil
}

// StatusCmd shows queue counters.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	return cli.withService(func(ctx context.Context, svc *service.Service) error {
		stats, err := svc.QueueStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	})
}

// exitCode maps the error taxonomy onto process exit codes: 4 for local
// I/O trouble (conflicts, drift, filesystem errors), 5 for backend errors.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch errdefs.KindOf(err) {
	case errdefs.KindInvalidInput:
		return exitInvalidInput
	case errdefs.KindNotFound:
		return exitNotFound
	case errdefs.KindConflict, errdefs.KindConsistencyDrift:
		return exitIO
	case errdefs.KindTransientBackend:
		return exitBackend
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return exitIO
	}
	return exitBackend
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("openviking"),
		kong.Description("OpenViking - a context database for AI agents"),
		kong.UsageOnError(),
	)

	var logOut *os.File = os.Stderr
	if cli.LogFile != "" {
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(exitInvalidInput)
		}
		defer cleanup()
		logOut = f
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), logOut, cli.LogFormat)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(exitCode(err))
	}
}
