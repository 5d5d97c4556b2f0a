// metadumpd serves a previously written metadata dump file over HTTP and can
// refresh it on demand with the configured platform credentials.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/adrg/xdg"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/miku/metadump"
	"github.com/miku/metadump/config"
	"github.com/miku/metadump/items"
	"github.com/miku/metadump/pidfile"
)

var (
	dumpFile   = flag.String("f", path.Join(xdg.DataHome, "metadump", "items.json"), "dump file to serve and refresh")
	listenAddr = flag.String("addr", "0.0.0.0:8000", "host port to listen on")
	timeout    = flag.Duration("T", 15*time.Second, "server timeout, refresh responses are exempt")

	banner        = `{"id": "metadumpd", "about": "Serving item metadata dump from %s. GET /dump for the full array, GET /items/{id} for one record, POST /refresh to re-run the aggregation."}`
	showVersion   = flag.Bool("v", false, "show version")
	debug         = flag.Bool("debug", false, "switch to log level DEBUG")
	accessLogFile = flag.String("access-log", "", "server access logfile, none if empty")
	logFile       = flag.String("log", "", "structured log output file, stderr if empty")
	pidFile       = flag.String("pidfile", "", "pidfile path, none if empty")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(metadump.Version)
		os.Exit(0)
	}
	var (
		logLevel        = slog.LevelInfo
		h               slog.Handler
		accessLogWriter io.Writer
	)
	if *debug {
		logLevel = slog.LevelDebug
	}
	switch {
	case *logFile != "":
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		h = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: logLevel})
	default:
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	switch {
	case *accessLogFile != "":
		f, err := os.OpenFile(*accessLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		accessLogWriter = f
	default:
		accessLogWriter = io.Discard
	}
	if *pidFile != "" {
		if err := pidfile.Write(*pidFile, os.Getpid()); err != nil {
			log.Fatal(err)
		}
		defer pidfile.Remove(*pidFile)
	}
	// Platform credentials for refresh come from the config file or
	// METADUMP_* environment, not from flags.
	v, err := config.Init()
	if err != nil {
		log.Fatal(err)
	}
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatal(err)
	}
	svc := &metadump.DumpService{
		Path:               *dumpFile,
		MinFreeDiskPercent: cfg.Server.MinFreeDiskPercent,
		RefreshTimeout:     cfg.Timeout,
	}
	if cfg.API.ClientID != "" && cfg.API.PublisherID != "" {
		svc.Refresh = func(ctx context.Context) (int, error) {
			token, err := items.Authenticate(ctx, cfg.API.TokenURL, cfg.API.ClientID, cfg.API.ClientSecret)
			if err != nil {
				return 0, err
			}
			client := items.New(cfg.API.BaseURL)
			seq := metadump.FetchAllMetadata(client, token, cfg.API.PublisherID)
			return metadump.StreamMetadataToFileAtomic(ctx, seq, *dumpFile)
		}
	} else {
		slog.Info("no platform credentials configured, refresh disabled")
	}
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, err := fmt.Fprintf(w, banner+"\n", *dumpFile)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	svc.Routes(r)
	loggedRouter := handlers.LoggingHandler(accessLogWriter, r)
	srv := &http.Server{
		Handler:      loggedRouter,
		Addr:         *listenAddr,
		WriteTimeout: *timeout,
		ReadTimeout:  *timeout,
	}
	slog.Info("starting server", "addr", *listenAddr, "dump", *dumpFile)
	log.Fatal(srv.ListenAndServe())
}
