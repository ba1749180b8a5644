package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"conduitdash/internal/api"
	"conduitdash/internal/bytesize"
	"conduitdash/internal/config"
	"conduitdash/internal/dashboard"
	"conduitdash/internal/execx"
	"conduitdash/internal/metrics"
	"conduitdash/internal/model"
	"conduitdash/internal/probe"
	"conduitdash/internal/server"
	"conduitdash/internal/snapshot"
	"conduitdash/internal/store"
	"conduitdash/internal/stunutil"
)

const usage = `conduitdash - traffic dashboard for a local Conduit service

Usage:
  conduitdash serve --config <path> [--listen :3000] [--data-dir <dir>] [--stats-file <path>] [--stun <servers>]
  conduitdash status --addr <url> | --config <path>
  conduitdash history --config <path> | --addr <url> [--hours 24]
  conduitdash summary --config <path> | --addr <url> [--window 24h]
  conduitdash export csv --config <path> --out <file> [--hours 24] [--append]
  conduitdash import csv --config <path> --in <file>
  conduitdash offsets show|reset --config <path> | --addr <url>
  conduitdash clear --config <path> | --addr <url>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "serve":
		handleServe(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "history":
		handleHistory(os.Args[2:])
	case "summary":
		handleSummary(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	case "import":
		handleImport(os.Args[2:])
	case "offsets":
		handleOffsets(os.Args[2:])
	case "clear":
		handleClear(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address")
	dataDir := fs.String("data-dir", "", "data directory")
	statsFile := fs.String("stats-file", "", "Conduit stats.json path")
	stunList := fs.String("stun", "", "comma-separated STUN servers")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	overrideConfig(&cfg, *listen, *dataDir, *statsFile, *stunList)
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer st.Close()

	ttl := config.Duration(cfg.CacheTTL, dashboard.DefaultTTL)
	svc := dashboard.NewService(
		probe.NewPSProbe(execx.NewOSRunner(), cfg.ProcessPattern, config.Duration(cfg.ProbeTimeout, 5*time.Second)),
		snapshot.NewFileReader(cfg.StatsFile),
		st,
		dashboard.Options{Name: cfg.ServerName, Host: cfg.Host, TTL: ttl},
	)

	ctx, cancel := signalContext()
	defer cancel()

	if len(cfg.STUNServers) > 0 {
		go discoverHost(ctx, svc, cfg.STUNServers, config.Duration(cfg.STUNTimeout, 3*time.Second))
	}

	log.Printf("reading %s, storing to %s", cfg.StatsFile, cfg.DBPath)
	srv := server.NewServer(svc, server.Options{
		Listen:         cfg.Listen,
		StaticDir:      cfg.StaticDir,
		StreamInterval: config.Duration(cfg.StreamInterval, ttl),
	})
	if err := srv.ListenAndServe(ctx); err != nil {
		_ = st.Close()
		fatal(err)
	}
}

func discoverHost(ctx context.Context, svc *dashboard.Service, servers []string, timeout time.Duration) {
	host, err := stunutil.PublicHost(ctx, servers, timeout)
	if err != nil {
		log.Printf("stun discovery failed, keeping host %q: %v", svc.Host(), err)
		return
	}
	svc.SetHost(host)
	log.Printf("public host %s", host)
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "", "dashboard address (host:port or URL)")
	configPath := fs.String("config", "", "path to YAML config (offline mode)")
	_ = fs.Parse(args)

	if *addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		stats, err := fetchStats(ctx, api.NewClient(normalizeBaseURL(*addr)))
		if err != nil {
			fatal(err)
		}
		printStats(os.Stdout, stats)
		return
	}

	st := openStore(*configPath)
	defer st.Close()

	latest, ok, err := st.Latest(context.Background())
	if err != nil {
		fatal(err)
	}
	if !ok {
		fmt.Fprintln(os.Stdout, "no samples recorded")
		return
	}
	fmt.Fprintf(os.Stdout, "last sample %s status=%s clients=%d upload=%s download=%s uptime=%s\n",
		time.UnixMilli(latest.Timestamp).UTC().Format(time.RFC3339), latest.Status, latest.Clients,
		bytesize.Format(latest.UploadBytes), bytesize.Format(latest.DownloadBytes), latest.Uptime)
}

// fetchStats checks /health before asking for stats so an unreachable or
// foreign address fails with a clear message.
func fetchStats(ctx context.Context, c *api.Client) ([]model.DisplayStats, error) {
	health, err := c.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard unreachable: %w", err)
	}
	if health.Status != "healthy" {
		return nil, fmt.Errorf("dashboard unhealthy: status %q", health.Status)
	}
	return c.Stats(ctx)
}

func handleHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	addr := fs.String("addr", "", "dashboard address (host:port or URL)")
	hours := fs.Int("hours", dashboard.DefaultHistoryHours, "history window in hours")
	_ = fs.Parse(args)

	var points []model.HistoryPoint
	if *addr != "" {
		var err error
		points, err = api.NewClient(normalizeBaseURL(*addr)).History(context.Background(), *hours)
		if err != nil {
			fatal(err)
		}
	} else {
		recs := queryStore(*configPath, *hours)
		for _, r := range recs {
			points = append(points, model.HistoryPoint{
				Timestamp: r.Timestamp, Status: r.Status, Clients: r.Clients,
				UploadBytes: r.UploadBytes, DownloadBytes: r.DownloadBytes, Uptime: r.Uptime,
				Server: dashboard.HistoryServer,
			})
		}
	}

	if len(points) == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}
	fmt.Fprintf(os.Stdout, "%-20s  %-8s  %-7s  %-10s  %-10s  %-8s\n", "TIME", "STATUS", "CLIENTS", "UPLOAD", "DOWNLOAD", "UPTIME")
	for _, p := range points {
		fmt.Fprintf(os.Stdout, "%-20s  %-8s  %-7d  %-10s  %-10s  %-8s\n",
			time.UnixMilli(p.Timestamp).UTC().Format(time.RFC3339), p.Status, p.Clients,
			bytesize.Format(p.UploadBytes), bytesize.Format(p.DownloadBytes), p.Uptime)
	}
}

func handleSummary(args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	addr := fs.String("addr", "", "dashboard address (host:port or URL)")
	window := fs.Duration("window", 24*time.Hour, "time window")
	_ = fs.Parse(args)

	var summary metrics.Summary
	if *addr != "" {
		var err error
		summary, err = api.NewClient(normalizeBaseURL(*addr)).Summary(context.Background(), *window)
		if err != nil {
			fatal(err)
		}
	} else {
		st := openStore(*configPath)
		defer st.Close()
		cutoff := time.Now().UTC().Add(-*window)
		items, err := st.Query(context.Background(), cutoff.UnixMilli()-1)
		if err != nil {
			fatal(err)
		}
		summary = metrics.Summarize(items, cutoff)
	}

	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}
	fmt.Fprintf(os.Stdout, "samples=%d from=%s to=%s running=%.1f%%\n", summary.Count,
		summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339), summary.RunningPct)
	fmt.Fprintf(os.Stdout, "clients peak=%d avg=%.2f p95=%d\n", summary.PeakClients, summary.AvgClients, summary.P95Clients)
	fmt.Fprintf(os.Stdout, "transferred upload=%s download=%s\n",
		bytesize.Format(summary.UploadedBytes), bytesize.Format(summary.DownloadedBytes))
}

func handleExport(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "export subcommand required\n")
		os.Exit(2)
	}
	if args[0] != "csv" {
		fmt.Fprintf(os.Stderr, "unknown export format %q\n", args[0])
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export csv", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	out := fs.String("out", "", "output file")
	hours := fs.Int("hours", dashboard.DefaultHistoryHours, "history window in hours")
	appendMode := fs.Bool("append", false, "append to an existing file")
	_ = fs.Parse(args[1:])

	if *out == "" {
		fatal(errors.New("--out is required"))
	}

	recs := queryStore(*configPath, *hours)
	if *appendMode {
		if err := metrics.AppendCSV(*out, recs); err != nil {
			fatal(err)
		}
	} else {
		if err := writeCSVFile(*out, recs); err != nil {
			fatal(err)
		}
	}
	fmt.Fprintf(os.Stdout, "exported %d rows to %s\n", len(recs), *out)
}

func handleImport(args []string) {
	if len(args) == 0 || args[0] != "csv" {
		fmt.Fprint(os.Stderr, "usage: conduitdash import csv --config <path> --in <file>\n")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("import csv", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	in := fs.String("in", "", "input CSV file")
	_ = fs.Parse(args[1:])

	if *in == "" {
		fatal(errors.New("--in is required"))
	}

	recs, err := metrics.ReadCSV(*in)
	if err != nil {
		fatal(err)
	}

	st := openStore(*configPath)
	defer st.Close()
	if err := st.AppendBatch(context.Background(), recs); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "imported %d rows\n", len(recs))
}

func handleOffsets(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "offsets subcommand required (show|reset)\n")
		os.Exit(2)
	}
	sub := args[0]
	if sub != "show" && sub != "reset" {
		fmt.Fprintf(os.Stderr, "unknown offsets subcommand %q\n", sub)
		os.Exit(2)
	}

	fs := flag.NewFlagSet("offsets "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	addr := fs.String("addr", "", "dashboard address (host:port or URL)")
	_ = fs.Parse(args[1:])

	ctx := context.Background()
	if *addr != "" {
		c := api.NewClient(normalizeBaseURL(*addr))
		if sub == "reset" {
			resp, err := c.ResetOffsets(ctx)
			if err != nil {
				fatal(err)
			}
			fmt.Fprintln(os.Stdout, resp.Message)
			return
		}
		off, err := c.Offsets(ctx)
		if err != nil {
			fatal(err)
		}
		printOffset(os.Stdout, off)
		return
	}

	st := openStore(*configPath)
	defer st.Close()
	if sub == "reset" {
		if err := st.ResetOffsets(ctx); err != nil {
			fatal(err)
		}
		fmt.Fprintln(os.Stdout, "Offsets reset")
		return
	}
	off, err := st.ReadOffset(ctx)
	if err != nil {
		fatal(err)
	}
	printOffset(os.Stdout, off)
}

func handleClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	addr := fs.String("addr", "", "dashboard address (host:port or URL)")
	_ = fs.Parse(args)

	ctx := context.Background()
	if *addr != "" {
		resp, err := api.NewClient(normalizeBaseURL(*addr)).Clear(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return
	}

	st := openStore(*configPath)
	defer st.Close()
	if err := st.ClearAll(ctx); err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, "Stats and offsets cleared")
}

func printStats(w io.Writer, stats []model.DisplayStats) {
	fmt.Fprintf(w, "%-10s  %-15s  %-8s  %-7s  %-10s  %-10s  %-8s  %s\n",
		"NAME", "HOST", "STATUS", "CLIENTS", "UPLOAD", "DOWNLOAD", "UPTIME", "ERROR")
	for _, s := range stats {
		errMsg := ""
		if s.Error != nil {
			errMsg = *s.Error
		}
		fmt.Fprintf(w, "%-10s  %-15s  %-8s  %-7d  %-10s  %-10s  %-8s  %s\n",
			s.Name, s.Host, s.Status, s.Clients, s.Upload, s.Download, s.Uptime, errMsg)
	}
}

func printOffset(w io.Writer, off model.OffsetRecord) {
	fmt.Fprintf(w, "upload_offset=%d download_offset=%d last_upload=%d last_download=%d\n",
		off.UploadOffset, off.DownloadOffset, off.LastUpload, off.LastDownload)
}

func writeCSVFile(path string, recs []model.StatsRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := metrics.WriteCSV(f, recs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		var cfg config.Config
		config.ApplyEnv(&cfg, os.Getenv)
		return cfg, nil
	}
	return config.Load(path)
}

func openStore(configPath string) *store.Store {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	config.ApplyDefaults(&cfg)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	return st
}

func queryStore(configPath string, hours int) []model.StatsRecord {
	if hours <= 0 {
		hours = dashboard.DefaultHistoryHours
	}
	st := openStore(configPath)
	defer st.Close()

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).UnixMilli()
	recs, err := st.Query(context.Background(), cutoff)
	if err != nil {
		fatal(err)
	}
	return recs
}

func overrideConfig(cfg *config.Config, listen, dataDir, statsFile, stunList string) {
	if listen != "" {
		cfg.Listen = listen
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if statsFile != "" {
		cfg.StatsFile = statsFile
	}
	if stunList != "" {
		cfg.STUNServers = splitList(stunList)
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
