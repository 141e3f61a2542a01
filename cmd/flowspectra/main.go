package main

import (
	"FlowSpectra/internal/alerter"
	"FlowSpectra/internal/api"
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/manager"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/notification"
	"FlowSpectra/internal/query"
	"FlowSpectra/internal/resolver"
	"FlowSpectra/internal/ui"
	"FlowSpectra/pkg/pcap"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	_ "FlowSpectra/internal/engine/impl/dns"
	_ "FlowSpectra/internal/engine/impl/ssl"
	_ "FlowSpectra/internal/engine/impl/tcp"
	_ "FlowSpectra/internal/engine/writer"
	_ "FlowSpectra/internal/probe"
	_ "FlowSpectra/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	pcapFile := flag.String("pcap", "", "Replay a pcap file instead of capturing live")
	iface := flag.String("iface", "", "Interface to capture from, overrides the config")
	bpf := flag.String("bpf", "", "BPF filter, overrides the config")
	noCurses := flag.Bool("no-curses", false, "Print exports as plain text instead of the interactive screen")
	logLevel := flag.String("loglevel", "", "Log level, overrides the config")
	listCollectors := flag.Bool("list-collectors", false, "List the available collectors and exit")
	flag.Parse()

	if *listCollectors {
		for _, name := range factory.Collectors() {
			fmt.Println(name)
		}
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *pcapFile != "" {
		cfg.Capture.PcapFile = *pcapFile
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}
	if *bpf != "" {
		cfg.Capture.BPFFilter = *bpf
	}
	if *noCurses {
		cfg.Display.NoCurses = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := setupLogging(cfg.Log); err != nil {
		log.Fatalf("Invalid log configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("FlowSpectra stopped: %v", err)
	}
}

func setupLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}

func openReader(cfg config.CaptureConfig) (*pcap.Reader, error) {
	if cfg.PcapFile != "" {
		log.Printf("Reading packets from '%s'", cfg.PcapFile)
		return pcap.NewReader(cfg.PcapFile)
	}
	log.Printf("Capturing on interface '%s'", cfg.Interface)
	return pcap.NewLiveReader(cfg.Interface, cfg.Snaplen, cfg.Promiscuous, cfg.BPFFilter)
}

func run(cfg *config.Config) error {
	names, err := resolver.New(cfg.Resolver.CacheSize)
	if err != nil {
		return err
	}
	if len(cfg.Collectors.LocalAddresses) == 0 {
		addrs, err := resolver.LocalAddresses()
		if err != nil {
			log.Warnf("Local address discovery failed: %v", err)
		}
		for _, a := range addrs {
			cfg.Collectors.LocalAddresses = append(cfg.Collectors.LocalAddresses, a.String())
		}
		log.Debugf("Discovered local addresses: %v", cfg.Collectors.LocalAddresses)
	}

	reader, err := openReader(cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	if cfg.Capture.RecordFile != "" {
		recorder, err := pcap.NewWriter(cfg.Capture.RecordFile, cfg.Capture.Snaplen, reader.LinkType())
		if err != nil {
			return err
		}
		defer recorder.Close()
		reader.Record(recorder)
	}

	m, err := manager.NewManager(cfg, names, !reader.Live())
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	status := func() string {
		if !reader.Live() {
			return ""
		}
		return reader.Stats().String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var screen *ui.Screen
	if cfg.Display.Enabled {
		if cfg.Display.NoCurses || !reader.Live() {
			m.OnExport(ui.NewPrinter(os.Stdout, status).Print)
		} else {
			screen = ui.NewScreen(m, status)
			m.OnExport(screen.Update)
			// Logs would tear the screen.
			log.SetOutput(io.Discard)
		}
	}

	if cfg.Alerter.Enabled {
		var notifier model.Notifier
		if cfg.Alerter.SMTP.Host != "" {
			notifier = notification.NewEmailNotifier(cfg.Alerter.SMTP)
		}
		a, err := alerter.NewAlerter(cfg.Alerter, notifier)
		if err != nil {
			return fmt.Errorf("failed to create alerter: %w", err)
		}
		a.Start()
		defer a.Stop()
		m.OnExport(a.Check)
	}

	if cfg.API.Enabled {
		health := api.NewHealth()
		m.OnExport(func([]*model.Snapshot) { health.Update(m) })
		serveAPI(ctx, g, cfg, m, health)
	}

	m.Start()

	g.Go(func() error {
		err := reader.ReadPackets(ctx, m.InputChannel())
		if err == nil && !reader.Live() {
			log.Println("Finished reading all packets from pcap file.")
			stop()
		}
		return err
	})

	if screen != nil {
		g.Go(func() error {
			err := screen.Run()
			stop()
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			screen.Stop()
			return nil
		})
	}

	err = g.Wait()
	log.SetOutput(os.Stderr)
	return errors.Join(err, m.Stop())
}

// serveAPI starts the HTTP and gRPC servers and stops them with ctx.
func serveAPI(ctx context.Context, g *errgroup.Group, cfg *config.Config, m *manager.Manager, health *api.Health) {
	var querier query.Querier
	for _, w := range cfg.Exporter.Writers {
		if w.Enabled && w.Type == "clickhouse" {
			q, err := query.NewClickHouseQuerier(w.ClickHouse)
			if err != nil {
				log.Warnf("History queries disabled: %v", err)
				break
			}
			querier = q
			break
		}
	}

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(m, querier),
	}
	g.Go(func() error {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.API.GRPCAddr == "" {
		return
	}
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.API.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.API.GRPCAddr, err)
		}
		log.Printf("gRPC health server starting on %s", cfg.API.GRPCAddr)
		return health.GRPCServer().Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		health.Shutdown()
		return nil
	})
}
