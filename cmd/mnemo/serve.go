package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemo/internal/access"
	"mnemo/internal/curation"
	"mnemo/internal/embedding"
	"mnemo/internal/search"
	"mnemo/internal/store"
	"mnemo/internal/tools"
	"mnemo/internal/types"
)

var (
	serveTransport string
	serveAddr      string
	serveProject   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the memory tools over MCP",
	Long: `Starts the MCP server. The stdio transport (default) is for clients
that spawn mnemo as a subprocess; the http transport listens on --addr
with the streamable HTTP protocol.

The session starts unscoped unless --project or MNEMO_PROJECT is set;
clients bind a project with the mem_set_project tool.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "stdio", "transport: stdio or http")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8921", "listen address for the http transport")
	serveCmd.Flags().StringVar(&serveProject, "project", "", "initial project scope (default MNEMO_PROJECT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := requireDatabase(); err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := store.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	project := serveProject
	if project == "" {
		project = os.Getenv("MNEMO_PROJECT")
	}
	if project != "" {
		if _, err := st.GetProject(ctx, project); err != nil {
			return fmt.Errorf("initial project: %w", err)
		}
		st.SetProject(project)
	}

	engine, err := embedding.NewEngine(cfg, logger)
	if err != nil {
		return fmt.Errorf("building embedding engine: %w", err)
	}

	resolver := access.NewResolver(st, types.RLSPhase(cfg.Access.DefaultPhase), logger)
	sampler := access.NewShadowSampler(cfg.Access.ShadowSampleN)

	deps := tools.Deps{
		Store:    st,
		Search:   search.NewService(st, engine, resolver, sampler, cfg.Search, logger),
		Curation: curation.NewService(st, engine, logger),
		Engine:   engine,
		Config:   cfg,
		Logger:   logger,
	}
	srv := tools.NewServer(deps)

	logger.Info("mnemo serving",
		zap.String("transport", serveTransport),
		zap.String("project", project),
		zap.String("embedding", engine.Name()))

	switch serveTransport {
	case "stdio":
		return server.ServeStdio(srv)
	case "http":
		return serveHTTP(srv)
	default:
		return fmt.Errorf("unknown transport %q (stdio or http)", serveTransport)
	}
}

func serveHTTP(srv *server.MCPServer) error {
	httpSrv := server.NewStreamableHTTPServer(srv)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Start(serveAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(ctx)
	}
}
