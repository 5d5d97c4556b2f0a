// metadump aggregates per-item metadata for a publisher on the vendor items
// platform and writes it to a single JSON array file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/miku/metadump"
	"github.com/miku/metadump/config"
	"github.com/miku/metadump/items"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"mvdan.cc/xurls/v2"
)

var (
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "metadump",
	Short: "Dump publisher item metadata to a JSON array file",
	Long: `metadump talks to the vendor items platform: it authenticates with
OAuth2 client credentials, lists all items of a publisher, fetches metadata
per item and writes the aggregate as one well-formed JSON array file, one
record at a time.

Examples:
  metadump dump -o items.json     # Aggregate all metadata to a file
  metadump ls                     # List publisher items
  metadump show item-123          # Show one metadata record
  metadump pull item-123          # Download an item's primary file
  metadump config                 # Show current configuration`,
	Version: metadump.Version,
}

var dumpCmd = &cobra.Command{
	Use:   "dump [flags]",
	Short: "Aggregate all item metadata into a JSON array file",
	Long: `Fetch metadata for every item of the configured publisher and
stream it into a JSON array file. Items deleted between listing and fetch
are skipped with a warning; any other failure aborts the run.`,
}

var lsCmd = &cobra.Command{
	Use:   "ls [flags]",
	Short: "List or search publisher items",
}

var showCmd = &cobra.Command{
	Use:   "show [flags] <item-id>",
	Short: "Show the metadata record for one item",
	Args:  cobra.ExactArgs(1),
}

var pullCmd = &cobra.Command{
	Use:   "pull [flags] <item-id>",
	Short: "Download an item's primary file into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPull(args[0])
	},
}

var configCmd = &cobra.Command{
	Use:   "config [flags]",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig()
	},
}

func main() {
	Execute()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig()
	}

	// RunE closures are assigned here rather than in the composite literals
	// to avoid an initialization cycle: the run functions read flags from
	// their command variables.
	dumpCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runDump()
	}
	lsCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runList()
	}
	showCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runShow(args[0])
	}

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (searches: ./metadump.yaml, $HOME/.config/metadump/metadump.yaml, /etc/metadump/metadump.yaml)")
	rootCmd.PersistentFlags().Bool("debug", config.DefaultDebug, "enable debug logging")
	rootCmd.PersistentFlags().String("log-file", "", "structured log output file (empty = stderr)")
	rootCmd.PersistentFlags().Duration("timeout", config.DefaultTimeout, "overall run timeout")
	rootCmd.PersistentFlags().String("publisher", "", "publisher id")

	// Dump flags
	dumpCmd.Flags().StringP("output", "o", config.DefaultOutput, "output file for the JSON array")
	dumpCmd.Flags().Bool("atomic", false, "write to a temp file and rename into place on success")
	dumpCmd.Flags().Bool("mirror", false, "upload the finished dump to S3")
	dumpCmd.Flags().String("catalog", config.DefaultCatalogPath, "sqlite catalog recording runs, empty disables")

	// Ls flags
	lsCmd.Flags().StringP("query", "q", "", "search query, empty lists all items")
	lsCmd.Flags().Bool("json", false, "emit items as JSON lines")

	// Show flags
	showCmd.Flags().Bool("links", false, "print URLs found in the item description")

	// Pull flags
	pullCmd.Flags().String("cache-dir", config.DefaultCacheDir, "content addressed cache directory")
}

func initConfig() error {
	var err error
	v, err = config.Init()
	if err != nil {
		return err
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Bind command-line flags to the viper instance.
	v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	v.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	v.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	v.BindPFlag("api.publisher_id", rootCmd.PersistentFlags().Lookup("publisher"))

	v.BindPFlag("output.path", dumpCmd.Flags().Lookup("output"))
	v.BindPFlag("output.atomic", dumpCmd.Flags().Lookup("atomic"))
	v.BindPFlag("catalog.path", dumpCmd.Flags().Lookup("catalog"))

	v.BindPFlag("output.cache_dir", pullCmd.Flags().Lookup("cache-dir"))

	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	setupLogging()

	return nil
}

func setupLogging() {
	var (
		logLevel = slog.LevelInfo
		h        slog.Handler
		w        io.Writer
	)
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			slog.Error("cannot open log", "err", err)
			os.Exit(1)
		}
		w = f
	default:
		w = os.Stderr
	}
	h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(h)
	slog.SetDefault(logger)
}

// authenticate resolves an access token from the configured credentials.
func authenticate(ctx context.Context) (string, error) {
	token, err := items.Authenticate(ctx, cfg.API.TokenURL, cfg.API.ClientID, cfg.API.ClientSecret)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	return token, nil
}

func runDump() error {
	if cfg.API.PublisherID == "" {
		return fmt.Errorf("publisher id not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	token, err := authenticate(ctx)
	if err != nil {
		return err
	}
	client := items.New(cfg.API.BaseURL)
	seq := metadump.FetchAllMetadata(client, token, cfg.API.PublisherID)

	var (
		catalog *metadump.Catalog
		runID   int64
		skipped int
	)
	if cfg.Catalog.Path != "" {
		catalog = &metadump.Catalog{Path: cfg.Catalog.Path}
		if err := catalog.EnsureDB(); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		defer catalog.Close()
		runID, err = catalog.StartRun(cfg.API.PublisherID)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		seq.OnYield = func(rec *metadump.SequencedRecord) {
			if err := catalog.RecordItem(runID, rec.Metadata.ID, metadump.OutcomeWritten); err != nil {
				slog.Warn("could not update catalog", "err", err, "item", rec.Metadata.ID)
			}
		}
	}
	seq.OnSkip = func(item items.Item, index int) {
		skipped++
		if catalog != nil {
			if err := catalog.RecordItem(runID, item.ID, metadump.OutcomeSkipped); err != nil {
				slog.Warn("could not update catalog", "err", err, "item", item.ID)
			}
		}
	}

	started := time.Now()
	var count int
	if cfg.Output.Atomic {
		count, err = metadump.StreamMetadataToFileAtomic(ctx, seq, cfg.Output.Path)
	} else {
		count, err = metadump.StreamMetadataToFile(ctx, seq, cfg.Output.Path)
	}
	if err != nil {
		return fmt.Errorf("dump failed after %d records: %w", count, err)
	}
	if catalog != nil {
		if err := catalog.FinishRun(runID, seq.Total(), count, skipped); err != nil {
			slog.Warn("could not finish catalog run", "err", err)
		}
	}
	slog.Info("dump done",
		"path", cfg.Output.Path,
		"total", seq.Total(),
		"written", count,
		"skipped", skipped,
		"duration", time.Since(started))

	mirror, _ := dumpCmd.Flags().GetBool("mirror")
	if mirror {
		wrap, err := metadump.NewWrapS3(cfg.S3.Endpoint, &metadump.WrapS3Options{
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			DefaultBucket: cfg.S3.DefaultBucket,
			UseSSL:        cfg.S3.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		object := metadump.DumpObjectName(cfg.API.PublisherID, time.Now())
		if _, err := wrap.MirrorDump(ctx, "", object, cfg.Output.Path); err != nil {
			return fmt.Errorf("s3 mirror failed: %w", err)
		}
		slog.Info("mirrored dump", "bucket", cfg.S3.DefaultBucket, "object", object)
	}
	fmt.Println(count)
	return nil
}

func runList() error {
	if cfg.API.PublisherID == "" {
		return fmt.Errorf("publisher id not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	token, err := authenticate(ctx)
	if err != nil {
		return err
	}
	client := items.New(cfg.API.BaseURL)
	var list []items.Item
	query, _ := lsCmd.Flags().GetString("query")
	if query != "" {
		list, err = client.SearchItems(ctx, token, cfg.API.PublisherID, query)
	} else {
		list, err = client.ListItems(ctx, token, cfg.API.PublisherID)
	}
	if err != nil {
		return err
	}
	asJSON, _ := lsCmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, item := range list {
			if err := enc.Encode(item); err != nil {
				return err
			}
		}
		return nil
	}
	for _, item := range list {
		fmt.Printf("%s\t%s\t%s\n", item.ID, item.Status, item.Name)
	}
	return nil
}

func runShow(itemID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	token, err := authenticate(ctx)
	if err != nil {
		return err
	}
	client := items.New(cfg.API.BaseURL)
	m, err := client.GetItemMetadata(ctx, token, itemID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("item not found: %s", itemID)
	}
	links, _ := showCmd.Flags().GetBool("links")
	if links {
		rx := xurls.Strict()
		for _, link := range rx.FindAllString(m.Description, -1) {
			fmt.Println(link)
		}
		return nil
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func runPull(itemID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	token, err := authenticate(ctx)
	if err != nil {
		return err
	}
	client := items.New(cfg.API.BaseURL)
	m, err := client.GetItemMetadata(ctx, token, itemID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("item not found: %s", itemID)
	}
	puller := &metadump.Puller{
		Client:   client,
		CacheDir: cfg.Output.CacheDir,
	}
	dst, info, err := puller.Pull(ctx, token, m)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%d\t%s\t%s\n", dst, info.Size, info.SHA1Hex, info.Mimetype)
	return nil
}

func showConfig() error {
	fmt.Printf("METADUMP Configuration:\n")
	if v.ConfigFileUsed() != "" {
		fmt.Printf("Config File: %s\n", v.ConfigFileUsed())
	} else {
		fmt.Printf("Config File: none (using defaults/env vars/flags)\n")
	}
	fmt.Println()

	fmt.Printf("Effective Configuration:\n")
	fmt.Printf("  Debug: %t\n", cfg.Debug)
	fmt.Printf("  Log File: %s\n", cfg.LogFile)
	fmt.Printf("  Timeout: %v\n", cfg.Timeout)
	fmt.Println()

	fmt.Printf("API:\n")
	fmt.Printf("  Base URL: %s\n", cfg.API.BaseURL)
	fmt.Printf("  Token URL: %s\n", cfg.API.TokenURL)
	fmt.Printf("  Client ID: %s\n", maskSensitive(cfg.API.ClientID))
	fmt.Printf("  Client Secret: %s\n", maskSensitive(cfg.API.ClientSecret))
	fmt.Printf("  Publisher ID: %s\n", cfg.API.PublisherID)
	fmt.Println()

	fmt.Printf("Output:\n")
	fmt.Printf("  Path: %s\n", cfg.Output.Path)
	fmt.Printf("  Atomic: %t\n", cfg.Output.Atomic)
	fmt.Printf("  Cache Dir: %s\n", cfg.Output.CacheDir)
	fmt.Println()

	fmt.Printf("S3:\n")
	fmt.Printf("  Endpoint: %s\n", cfg.S3.Endpoint)
	fmt.Printf("  Access Key: %s\n", maskSensitive(cfg.S3.AccessKey))
	fmt.Printf("  Secret Key: %s\n", maskSensitive(cfg.S3.SecretKey))
	fmt.Printf("  Default Bucket: %s\n", cfg.S3.DefaultBucket)
	fmt.Printf("  Use SSL: %t\n", cfg.S3.UseSSL)
	fmt.Println()

	fmt.Printf("Catalog:\n")
	fmt.Printf("  Path: %s\n", cfg.Catalog.Path)
	fmt.Println()

	fmt.Printf("Server:\n")
	fmt.Printf("  Listen Addr: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Min Free Disk Percent: %d\n", cfg.Server.MinFreeDiskPercent)

	return nil
}

func maskSensitive(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
