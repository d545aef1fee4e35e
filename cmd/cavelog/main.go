package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yourorg/cavelog/internal/capture"
	"github.com/yourorg/cavelog/internal/config"
	"github.com/yourorg/cavelog/internal/feed"
	"github.com/yourorg/cavelog/internal/filter"
	"github.com/yourorg/cavelog/internal/har"
	"github.com/yourorg/cavelog/internal/server"
	"github.com/yourorg/cavelog/internal/store"
)

var version = "dev"

const defaultConfigContent = `capture:
  level: "body"
  redact_headers:
    - Authorization
    - Cookie
    - Set-Cookie
    - Proxy-Authorization
  mask: "██"
  max_body_bytes: 4194304

store:
  path: ""

sanitize:
  body_fields:
    - password
    - secret
    - token
    - api_key
    - access_token
    - refresh_token
  replacement: "***REDACTED***"

server:
  host: "127.0.0.1"
  port: 3000
  allowed_origins:
    - "*"

log:
  level: "info"
  file: ""
  max_size_mb: 25
  max_backups: 5
  max_age_days: 14
`

func main() {
	server.Version = version
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	cfgPath string
	debug   bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "cavelog",
		Short:         "Capture, store and browse HTTP traffic",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.cfgPath, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug output")

	root.AddCommand(newInitCmd())
	root.AddCommand(newServeCmd(g))
	root.AddCommand(newProxyCmd(g))
	root.AddCommand(newFetchCmd(g))
	root.AddCommand(newListCmd(g))
	root.AddCommand(newShowCmd(g))
	root.AddCommand(newDeleteCmd(g))
	root.AddCommand(newClearCmd(g))
	root.AddCommand(newExportCmd(g))
	root.AddCommand(newImportCmd(g))

	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.cavelog directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := config.DefaultPath()
			if err != nil {
				return err
			}
			baseDir := filepath.Dir(cfgFile)
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", cfg.Store.Path)
			return nil
		},
	}
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{Use: "serve", Short: "Start the exchange browsing API", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		applyServerFlags(cmd, cfg, host, port)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		fd := feed.New(st)
		defer fd.Close()
		st.Subscribe(fd.Notify)

		srv, err := server.New(cfg, st, fd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logStartup(ctx, st, "api listening", "addr", cfg.Addr())
		return srv.ListenAndServe(ctx, cfg.Addr())
	}}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", 3000, "server port")
	return cmd
}

func newProxyCmd(g *globalFlags) *cobra.Command {
	var target, listen, host string
	var port int
	cmd := &cobra.Command{Use: "proxy", Short: "Reverse proxy to a target, capturing every exchange", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		applyServerFlags(cmd, cfg, host, port)
		targetURL, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("parse target: %w", err)
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		fd := feed.New(st)
		defer fd.Close()
		st.Subscribe(fd.Notify)

		ic, err := newInterceptor(cfg, st, capture.SlogLogger(nil))
		if err != nil {
			return err
		}
		proxy, err := server.NewProxy(targetURL, ic, cfg.Capture.MaxBodyBytes)
		if err != nil {
			return err
		}
		srv, err := server.New(cfg, st, fd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logStartup(ctx, st, "proxy listening", "addr", listen, "target", targetURL.String(), "api", cfg.Addr(), "level", ic.Level().String())

		errCh := make(chan error, 2)
		go func() { errCh <- server.ServeProxy(ctx, listen, proxy) }()
		go func() { errCh <- srv.ListenAndServe(ctx, cfg.Addr()) }()
		err = <-errCh
		stop()
		if err2 := <-errCh; err == nil {
			err = err2
		}
		return err
	}}
	cmd.Flags().StringVar(&target, "target", "", "upstream base url")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "proxy listen address")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "api host")
	cmd.Flags().IntVar(&port, "port", 3000, "api port")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newFetchCmd(g *globalFlags) *cobra.Command {
	var method, data, contentType, level string
	var headers []string
	cmd := &cobra.Command{Use: "fetch <url>", Short: "Send one captured request and print the response", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		if level != "" {
			cfg.Capture.Level = level
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		stderr := cmd.ErrOrStderr()
		ic, err := newInterceptor(cfg, st, capture.LoggerFunc(func(line string) {
			fmt.Fprintln(stderr, line)
		}))
		if err != nil {
			return err
		}

		var body io.Reader
		if data != "" {
			body = strings.NewReader(data)
		}
		req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(method), args[0], body)
		if err != nil {
			return err
		}
		for _, h := range headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("header %q must be Name: value", h)
			}
			req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		if contentType != "" {
			req = capture.WithBody(req, capture.BodyDescriptor{ContentType: contentType})
		}

		resp, err := (&http.Client{Transport: ic}).Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
		return err
	}}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "request method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringVar(&contentType, "content-type", "", "body content type when no Content-Type header is sent")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header, Name: value")
	cmd.Flags().StringVar(&level, "level", "", "capture level override (none, basic, headers, body)")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	var c filter.Criteria
	cmd := &cobra.Command{Use: "list", Short: "List captured exchanges, newest first", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		list, err := st.ListAll(cmd.Context())
		if err != nil {
			return err
		}
		return printList(cmd.OutOrStdout(), filter.Apply(list, c))
	}}
	cmd.Flags().StringVar(&c.Method, "method", "", "only this method")
	cmd.Flags().StringVar(&c.URLContains, "url", "", "only urls containing this text")
	cmd.Flags().IntVar(&c.Status, "status", 0, "exact status, or class 1-5")
	cmd.Flags().BoolVar(&c.PendingOnly, "pending", false, "only exchanges without a response")
	cmd.Flags().IntVar(&c.Limit, "limit", 0, "maximum rows")
	return cmd
}

func newShowCmd(g *globalFlags) *cobra.Command {
	var id int64
	cmd := &cobra.Command{Use: "show", Short: "Show one exchange", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		e, err := st.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		printExchange(cmd.OutOrStdout(), *e)
		return nil
	}}
	cmd.Flags().Int64Var(&id, "id", 0, "exchange id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	var id int64
	cmd := &cobra.Command{Use: "delete", Short: "Delete one exchange", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
		return nil
	}}
	cmd.Flags().Int64Var(&id, "id", 0, "exchange id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newClearCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{Use: "clear", Short: "Delete every exchange", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cleared")
		return nil
	}}
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var out string
	var c filter.Criteria
	cmd := &cobra.Command{Use: "export", Short: "Export exchanges as HAR", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		list, err := st.ListAll(cmd.Context())
		if err != nil {
			return err
		}
		list = filter.Apply(list, c)

		w := cmd.OutOrStdout()
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := har.Write(w, list, version); err != nil {
			return err
		}
		if out != "" && out != "-" {
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d exchanges to %s\n", len(list), out)
		}
		return nil
	}}
	cmd.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&c.Method, "method", "", "only this method")
	cmd.Flags().StringVar(&c.URLContains, "url", "", "only urls containing this text")
	return cmd
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var harPath string
	cmd := &cobra.Command{Use: "import", Short: "Import a HAR file into the database", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		list, err := har.Parse(harPath)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		for i := range list {
			if _, err := st.Insert(cmd.Context(), &list[i]); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d exchanges\n", len(list))
		return nil
	}}
	cmd.Flags().StringVar(&harPath, "har", "", "HAR file path")
	_ = cmd.MarkFlagRequired("har")
	return cmd
}

// load reads the config and installs the slog default logger.
func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.cfgPath)
	if err != nil {
		return nil, err
	}
	if g.debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setupLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) error {
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			return err
		}
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		})
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(h))
	return nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Store.Path)
}

func newInterceptor(cfg *config.Config, st store.Store, lines capture.Logger) (*capture.Interceptor, error) {
	level, err := capture.ParseLevel(cfg.Capture.Level)
	if err != nil {
		return nil, err
	}
	redactor := filter.NewRedactor(cfg.Capture.RedactHeaders, cfg.Capture.Mask, cfg.Sanitize)
	return capture.New(nil, st,
		capture.WithLevel(level),
		capture.WithLogger(lines),
		capture.WithRedactor(redactor),
		capture.WithMaxBodyBytes(cfg.Capture.MaxBodyBytes),
	), nil
}

func applyServerFlags(cmd *cobra.Command, cfg *config.Config, host string, port int) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
}

func logStartup(ctx context.Context, st store.Store, msg string, args ...any) {
	if list, err := st.ListAll(ctx); err == nil {
		args = append(args, "stored", humanize.Comma(int64(len(list))))
	}
	slog.Info(msg, args...)
}
