package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dannyswat/htmlstage"
	"github.com/dannyswat/htmlstage/codeview"
	"github.com/dannyswat/htmlstage/config"
	"github.com/dannyswat/htmlstage/internal/debug"
	"github.com/dannyswat/htmlstage/reference"
	"github.com/dannyswat/htmlstage/stage"
	"github.com/dannyswat/htmlstage/workspace"
)

// stderrNotifier prints user-visible notices.
type stderrNotifier struct{}

func (stderrNotifier) Notify(n htmlstage.Notice) {
	level := "info"
	switch n.Level {
	case htmlstage.NoticeWarning:
		level = "warning"
	case htmlstage.NoticeError:
		level = "error"
	}
	if n.Err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s: %v\n", level, n.Message, n.Err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", level, n.Message)
}

func main() {
	root := flag.String("root", ".", "Workspace directory")
	file := flag.String("file", "index.html", "Document to open, relative to the workspace")
	configPath := flag.String("config", "", "Config file (default: $XDG_CONFIG_HOME/htmlstage/config.yaml)")
	addr := flag.String("addr", "", "Stage address (overrides stage.addr)")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help {
		fmt.Println("Usage: htmlstage [options]")
		fmt.Println("\nServes a live preview of an HTML document and keeps it in sync with the file.")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if err := run(*root, *file, *configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(root, file, configPath, addr string) error {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Stage.Addr = addr
	}

	dir, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fsys, err := workspace.NewLocalFS(dir)
	if err != nil {
		return err
	}
	ws := workspace.New(fsys, cfg.History.Limit)
	if _, err := ws.Import(ctx); err != nil {
		return err
	}
	docPath := filepath.ToSlash(filepath.Clean(file))
	ws.Tree().Focus(workspace.FileUID(docPath))

	store := workspace.NewFileStore(fsys, docPath)
	hub := stage.NewHub(cfg.Stage.UIDAttribute)
	defer hub.Close()
	buffer := codeview.NewBuffer(nil)

	opts := append([]htmlstage.Option{
		htmlstage.WithCatalog(reference.Default()),
		htmlstage.WithStageSink(hub),
		htmlstage.WithTextSink(buffer),
		htmlstage.WithNotifier(stderrNotifier{}),
		htmlstage.WithClipboard(htmlstage.NewClipboard(htmlstage.OSClipboard)),
	}, cfg.CoordinatorOptions()...)
	s, err := htmlstage.OpenSession(ctx, docPath, store, opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	buffer.Attach(s)
	hub.Bind(s.ID, s.HandleStageEvent)

	watcher := workspace.NewWatcher(ws, dir,
		workspace.WithPollInterval(cfg.Workspace.PollInterval),
		workspace.WithForcePoll(cfg.Workspace.ForcePoll),
		workspace.WithDocument(store, s.ExternalChange),
		workspace.WithOnImport(func(deleted []htmlstage.UID) {
			debug.LogIf(len(deleted) > 0, "cli: %d workspace entries removed", len(deleted))
		}),
		workspace.WithOnError(func(err error) {
			fmt.Fprintf(os.Stderr, "warning: workspace: %v\n", err)
		}),
	)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	mux := http.NewServeMux()
	mux.Handle("/code", buffer)
	mux.Handle("/", hub)
	srv := &http.Server{Addr: cfg.Stage.Addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	fmt.Printf("htmlstage: %s on http://%s\n", docPath, cfg.Stage.Addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.Document().Unsaved {
		if err := s.Save(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: save: %v\n", err)
		}
	}
	return srv.Shutdown(shutdownCtx)
}
