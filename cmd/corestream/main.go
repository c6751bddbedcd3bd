// Command corestream is the multi-protocol live streaming engine's
// entry point, grown from the teacher's cmd/rtsper: load config, wire
// every ingress/egress collaborator into the shared source.Manager,
// serve the admin HTTP API, and run until SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"redalf.de/corestream/pkg/admin"
	"redalf.de/corestream/pkg/bridge"
	"redalf.de/corestream/pkg/config"
	"redalf.de/corestream/pkg/hls"
	"redalf.de/corestream/pkg/listener"
	"redalf.de/corestream/pkg/log"
	"redalf.de/corestream/pkg/metrics"
	"redalf.de/corestream/pkg/paths"
	"redalf.de/corestream/pkg/rtmp"
	"redalf.de/corestream/pkg/rtsp"
	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/token"
	"redalf.de/corestream/pkg/udpalloc"
)

// version is stamped by the release build; left as a placeholder
// constant the way the teacher's cmd/rtsper never bothered versioning
// at all (corestream's CLI contract requires -v/-V, the teacher's
// didn't).
const version = "0.1.0-dev"

const (
	exitOK         = 0
	exitConfigErr  = 1
	exitRuntimeErr = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   = flag.String("c", "", "path to JSON config file (required)")
		testOnly     = flag.Bool("t", false, "validate configuration and exit")
		showVersionV = flag.Bool("v", false, "print version and exit")
		showVersionU = flag.Bool("V", false, "print version and exit")
		controlFile  = flag.String("g", "", "control file written on start (pid); SIGHUP is only logged, the file is not re-read")
	)
	flag.Parse()

	if *showVersionV || *showVersionU {
		fmt.Println("corestream " + version)
		return exitOK
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "corestream: -c <config> is required")
		return exitConfigErr
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corestream: load config: %v\n", err)
		return exitConfigErr
	}

	if err := log.Configure(cfg.LogLevel, log.FileConfig{Path: cfg.LogFile}); err != nil {
		fmt.Fprintf(os.Stderr, "corestream: configure log: %v\n", err)
		return exitConfigErr
	}

	if *testOnly {
		log.Info("config ok", "path", *configPath)
		return exitOK
	}

	if *controlFile != "" {
		if err := os.WriteFile(*controlFile, []byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0o644); err != nil {
			log.Error("write control file", "err", err)
			return exitConfigErr
		}
	}

	if err := serve(cfg, *controlFile); err != nil {
		log.Error("fatal", "err", err)
		return exitRuntimeErr
	}
	return exitOK
}

func serve(cfg config.Config, controlFile string) error {
	worker := runtime.NewWorker()
	reg := metrics.New("corestream-0")
	if cfg.Metrics.OTLPEndpoint != "" {
		otlpCtx, cancelOTLP := context.WithCancel(context.Background())
		defer cancelOTLP()
		if err := reg.InitOTLP(otlpCtx, cfg.Metrics.OTLPEndpoint); err != nil {
			log.Warn("otlp export disabled", "err", err)
		}
	}

	sources := source.NewManager(source.Config{
		Stripes:      16,
		GOPCacheSize: cfg.Queues.GOPCacheFrames,
		QueueSize:    cfg.Queues.SubscriberQueueSize,
		GracePeriod:  cfg.Admission.SourceGracePeriod.Duration,
	})
	// Publish-token admission has no grace window of its own (§4.5):
	// the reconnect grace lives only on source.Source disposal, wired
	// above via source.Config.GracePeriod. A nonzero grace here would
	// make a legitimate concurrent republish within that window bounce
	// off a stale token (§8 scenario 4).
	tokens := token.New(0)

	hooks := admin.HookClient(admin.NoopHookClient{})
	if len(cfg.Admin.Hooks) > 0 {
		urls := map[admin.HookEvent]string{}
		events := []admin.HookEvent{
			admin.HookOnConnect, admin.HookOnClose, admin.HookOnPublish,
			admin.HookOnUnpublish, admin.HookOnPlay, admin.HookOnStop, admin.HookOnDVR,
		}
		for i, u := range cfg.Admin.Hooks {
			if i >= len(events) {
				break
			}
			if u != "" {
				urls[events[i]] = u
			}
		}
		hooks = admin.NewHTTPHookClient(urls)
	}
	// Per-protocol session types don't yet take a HookClient; see DESIGN.md
	// for the on_connect/on_publish wiring gap this leaves.
	_ = hooks

	windowSegments := 6
	if cfg.HLS.Fragment.Duration > 0 {
		windowSegments = int(cfg.HLS.Window.Duration / cfg.HLS.Fragment.Duration)
	}
	sources.SetOnPublish(func(src *source.Source) {
		vars := paths.Vars{Vhost: src.URL.Vhost, App: src.URL.App, Stream: src.URL.Stream}
		writer := hls.NewFSWriter("./hls-out", vars)
		muxer := hls.New(hls.Config{
			Fragment:        cfg.HLS.Fragment.Duration,
			Window:          windowSegments,
			AofRatio:        cfg.HLS.AofRatio,
			WaitKeyframe:    cfg.HLS.WaitKeyframe,
			TSFloor:         cfg.HLS.TSFloor,
			FragmentsPerKey: cfg.HLS.FragmentsPerKey,
		}, writer)
		sink := hls.Attach(src, muxer)
		worker.Spawn(context.Background(), func(ctx context.Context) {
			sink.Run(ctx)
		})
		log.Info("hls: sink attached", "stream", src.URL.Canonical())
	})
	sources.SetOnPublish(func(src *source.Source) {
		attachBridges(context.Background(), worker, sources, src)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/status", admin.StatusHandler(sources))
	mux.HandleFunc("/stats", admin.MetricsDumpHandler(reg))
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{}))

	var udpAllocator *udpalloc.Allocator
	if cfg.WebRTC.UDPPortMin > 0 && cfg.WebRTC.UDPPortMax >= cfg.WebRTC.UDPPortMin {
		alloc, err := udpalloc.NewAllocator(cfg.WebRTC.UDPPortMin, cfg.WebRTC.UDPPortMax, reg)
		if err != nil {
			return fmt.Errorf("set up webrtc udp allocator: %w", err)
		}
		udpAllocator = alloc
	}

	whip := &admin.WHIPServer{
		Sources:    sources,
		Tokens:     tokens,
		Worker:     worker,
		HEVC:       cfg.WebRTC.EnableHEVC,
		UDPPortMin: uint16(cfg.WebRTC.UDPPortMin),
		UDPPortMax: uint16(cfg.WebRTC.UDPPortMax),
		Allocator:  udpAllocator,
	}
	mux.HandleFunc("/rtc/v1/publish/", whip.PublishHandler())
	mux.HandleFunc("/rtc/v1/play/", whip.PlayHandler())

	adminSrv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Spawn(ctx, func(ctx context.Context) {
		log.Info("admin: listening", "addr", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server", "err", err)
		}
	})

	rtspSrv := rtsp.NewServer(sources, tokens, worker, cfg.RTSP.PublishPort, cfg.RTSP.SubscribePort)
	if err := rtspSrv.Start(ctx); err != nil {
		return fmt.Errorf("start rtsp servers: %w", err)
	}

	rtmpLn, err := net.Listen("tcp", cfg.RTMP.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen rtmp: %w", err)
	}
	var tlsCfg *tls.Config
	if cfg.RTMP.TLSCertFile != "" && cfg.RTMP.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.RTMP.TLSCertFile, cfg.RTMP.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load rtmp tls cert: %w", err)
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	mux2 := listener.NewTCPMux(rtmpLn, 2*time.Second)
	worker.Spawn(ctx, func(ctx context.Context) {
		runRTMPAcceptLoop(ctx, worker, mux2, tlsCfg, sources, tokens)
	})
	log.Info("rtmp: listening", "addr", cfg.RTMP.ListenAddr)

	log.Info("srt: streamid/MPEG-TS framing available via pkg/srt; the SRT transport itself is delegated to an external collaborator (§4.4.2), no listener started here")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info("sighup: graceful publisher-drain requested", "control_file", controlFile)
			continue
		}
		break
	}

	log.Info("shutdown requested")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	adminSrv.Shutdown(shutdownCtx)
	rtspSrv.Close()
	rtmpLn.Close()
	sources.Shutdown()
	return nil
}

// attachBridges eagerly wires the cross-protocol bridge(s) a freshly
// published Source needs so it's playable from every protocol's egress
// path, not just its own (§4.2, §4.3, §8 scenario 3). Each bridge
// self-disposes its sibling Source when the ingest consumer closes, so
// no corresponding detach call is needed here.
func attachBridges(ctx context.Context, worker *runtime.Worker, sources *source.Manager, src *source.Source) {
	ssrc := bridge.SSRCFor(src.Key)
	var bridges []bridge.Bridge
	switch src.Protocol {
	case "rtmp":
		bridges = []bridge.Bridge{bridge.NewRtmpToRtc(sources, worker, ssrc)}
	case "rtc":
		bridges = []bridge.Bridge{bridge.NewRtcToRtmp(sources, worker)}
	case "rtsp":
		bridges = []bridge.Bridge{bridge.NewRtspToRtmp(sources, worker)}
	case "srt":
		bridges = []bridge.Bridge{
			bridge.NewSrtToRtmp(sources, worker),
			bridge.NewSrtToRtc(sources, worker, ssrc),
		}
	default:
		log.Warn("bridge: unknown source protocol, no bridge attached", "protocol", src.Protocol, "stream", src.URL.Canonical())
		return
	}
	for _, b := range bridges {
		if err := b.Attach(ctx, src); err != nil {
			log.Warn("bridge: attach failed", "bridge", b.Name(), "stream", src.URL.Canonical(), "err", err)
			continue
		}
		log.Info("bridge: attached", "bridge", b.Name(), "stream", src.URL.Canonical())
	}
}

func runRTMPAcceptLoop(ctx context.Context, worker *runtime.Worker, mux *listener.TCPMux, tlsCfg *tls.Config, sources *source.Manager, tokens *token.Manager) {
	for {
		conn, isTLS, err := mux.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warn("rtmp: accept", "err", err)
			continue
		}
		if isTLS {
			if tlsCfg == nil {
				log.Warn("rtmp: rejecting rtmps:// connection, no tls cert configured")
				conn.Close()
				continue
			}
			conn = tls.Server(conn, tlsCfg)
		}

		cid := uuid.NewString()
		cctx, _ := runtime.WithCID(ctx, cid)
		sess := rtmp.NewSession(conn, cid, sources, tokens)
		worker.Spawn(cctx, func(ctx context.Context) {
			defer conn.Close()
			if err := sess.Serve(ctx); err != nil {
				log.Pithy("rtmp-session-err", 5*time.Second, "rtmp: session ended", "err", err)
			}
		})
	}
}
