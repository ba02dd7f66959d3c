// Command docenrich converts PDFs into structured markdown, enriches them
// with LLM-generated enhancements and indexes them for retrieval.
//
//	docenrich serve                 HTTP API, queue workers, MCP over /mcp
//	docenrich serve --mcp stdio     queue workers, MCP over stdin/stdout
//	docenrich upload report.pdf     store a PDF, print its document id
//	docenrich extract <doc_id>      run the extraction pipeline only
//	docenrich process <doc_id>      run every stage in the foreground
//	docenrich status <doc_id>       print the processing state
//	docenrich types                 list the enhancement types
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/docenrich/api"
	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/docpipe"
	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/ingest"
	"github.com/hazyhaar/docenrich/orchestrator"
	"github.com/hazyhaar/docenrich/shield"
	"github.com/hazyhaar/docenrich/watch"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		slog.Error("docenrich", "error", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "docenrich",
		Usage:   "PDF extraction and LLM enrichment pipeline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration `FILE`", EnvVars: []string{"DOCENRICH_CONFIG"}},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv `FILE` loaded before the configuration"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			uploadCommand(),
			extractCommand(),
			processCommand(),
			statusCommand(),
			typesCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API and process queued documents",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)"},
			&cli.StringFlag{Name: "mcp", Value: "http", Usage: "MCP transport: http, stdio or none"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent documents (overrides queue.workers)"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c, true)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			workers := a.cfg.Queue.Workers
			if w := c.Int("workers"); w > 0 {
				workers = w
			}
			done := make(chan struct{})
			go func() {
				defer close(done)
				a.queue.RunBatch(ctx, workers, workers, a.orch.HandleJob)
			}()

			if iv := a.cfg.Enhancement.ReloadInterval; iv > 0 {
				w := watch.New(watch.Options{
					Interval: iv,
					Debounce: iv / 4,
					Detector: watch.Files(a.cfg.ProfilesDir),
					Logger:   a.logger,
				})
				go w.OnChange(ctx, func() error {
					a.orch.Profiles().Reload()
					return nil
				})
			}

			var mcpSrv *mcp.Server
			if c.String("mcp") != "none" {
				mcpSrv = mcp.NewServer(&mcp.Implementation{Name: "docenrich", Version: version}, nil)
				a.pipeline.RegisterMCP(mcpSrv)
				a.orch.RegisterMCP(mcpSrv)
			}

			if c.String("mcp") == "stdio" {
				a.logger.Info("MCP stdio starting", "workers", workers)
				err := mcpSrv.Run(ctx, &mcp.StdioTransport{})
				stopped := ctx.Err() != nil
				cancel()
				<-done
				if stopped {
					return nil
				}
				return err
			}

			listen := a.cfg.Listen
			if l := c.String("listen"); l != "" {
				listen = l
			}
			srv := api.New(a.store, a.orch, a.ingest, a.queue, api.Config{
				Shield:  shield.Config{RequestsPerSecond: 10, Burst: 20},
				Metrics: a.metrics,
			})
			mux := http.NewServeMux()
			if mcpSrv != nil {
				mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
			}
			mux.Handle("/", srv.Handler())

			hs := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				a.logger.Info("docenrich listening", "addr", listen, "workers", workers, "mcp", c.String("mcp"))
				if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errc:
				cancel()
				<-done
				return err
			}
			a.logger.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := hs.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown", "error", err)
			}
			cancel()
			<-done
			a.logger.Info("server stopped")
			return nil
		},
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "store PDFs in the artefact directory",
		ArgsUsage: "FILE.pdf...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dedup", Usage: "reuse the document of identical bytes"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("upload: at least one file is required", 2)
			}
			a, err := newApp(c, false)
			if err != nil {
				return err
			}
			ing := a.ingest
			if c.Bool("dedup") {
				ing = ingest.New(a.store, ingest.Config{
					MaxFileSize: a.cfg.MaxFileBytes(),
					Dedup:       true,
					Metrics:     a.metrics,
					Logger:      a.logger,
				})
			}
			for _, path := range c.Args().Slice() {
				res, err := ing.ReceiveFile(c.Context, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if err := printJSON(c.App.Writer, res); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "run the extraction pipeline on an uploaded document",
		ArgsUsage: "DOC_ID",
		Action: func(c *cli.Context) error {
			docID := c.Args().First()
			if docID == "" {
				return cli.Exit("extract: DOC_ID is required", 2)
			}
			a, err := newApp(c, false)
			if err != nil {
				return err
			}
			path, err := a.store.Path(docID, artifacts.SourcePDF)
			if err != nil {
				return err
			}
			opts := docpipe.Options{
				Progress: func(p docpipe.Progress) {
					a.logger.Info("extract", "pages_done", p.PagesDone, "pages_total", p.PagesTotal, "percent", p.Percent)
				},
			}
			if m, err := a.store.LoadMeta(docID); err == nil {
				opts.SourceFile = m.OriginalFilename
			}
			res, err := a.pipeline.Extract(c.Context, docID, path, opts)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, map[string]any{
				"doc_id":        res.DocID,
				"page_count":    res.PageCount,
				"units":         res.UnitCount(),
				"tables":        len(res.Tables),
				"figures":       len(res.Figures),
				"failed_pages":  res.FailedPages,
				"markdown_file": res.MarkdownFile,
				"quality":       res.Quality,
			})
		},
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "run a document through every stage",
		ArgsUsage: "DOC_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}, Usage: "client namespace (profile and vector namespace)"},
			&cli.StringSliceFlag{Name: "type", Aliases: []string{"t"}, Usage: "enhancement type id; repeatable, overrides the profile"},
			&cli.StringFlag{Name: "domain-hint", Usage: "domain hint for the prompts"},
			&cli.StringFlag{Name: "instructions", Usage: "custom instructions appended to the system prompt"},
			&cli.BoolFlag{Name: "enqueue", Usage: "schedule on the queue instead of running in the foreground"},
		},
		Action: func(c *cli.Context) error {
			docID := c.Args().First()
			if docID == "" {
				return cli.Exit("process: DOC_ID is required", 2)
			}
			a, err := newApp(c, true)
			if err != nil {
				return err
			}
			defer a.Close()

			req := orchestrator.Request{Namespace: c.String("namespace")}
			if types := c.StringSlice("type"); len(types) > 0 {
				req.Selection = &enhance.Selection{
					TypeIDs:            types,
					DomainHint:         c.String("domain-hint"),
					CustomInstructions: c.String("instructions"),
				}
			}
			if c.Bool("enqueue") {
				st, err := a.orch.Schedule(c.Context, a.queue, docID, req)
				if err != nil {
					return err
				}
				return printJSON(c.App.Writer, st)
			}
			sum, err := a.orch.Run(c.Context, docID, req)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, sum)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "print the processing state of a document",
		ArgsUsage: "DOC_ID",
		Action: func(c *cli.Context) error {
			docID := c.Args().First()
			if docID == "" {
				return cli.Exit("status: DOC_ID is required", 2)
			}
			a, err := newApp(c, false)
			if err != nil {
				return err
			}
			st, err := a.orch.Status(docID)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, st)
		},
	}
}

func typesCommand() *cli.Command {
	return &cli.Command{
		Name:  "types",
		Usage: "list the enhancement types",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the client catalogue as JSON"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c, false)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, a.registry.FrontendConfig())
			}
			byCat := a.registry.TypesByCategory()
			for _, cat := range a.registry.Categories() {
				fmt.Fprintf(c.App.Writer, "%s (%s)\n", cat.ID, cat.Name)
				for _, t := range byCat[cat.ID] {
					mark := " "
					if t.DefaultEnabled {
						mark = "*"
					}
					fmt.Fprintf(c.App.Writer, "  %s %-24s %s\n", mark, t.ID, t.Name)
				}
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
