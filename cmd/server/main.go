package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.ai/internal/observerproto"
	persistlog "voxelterrain.ai/internal/persistence/log"
	"voxelterrain.ai/internal/persistence/vxb"
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/mesher"
	"voxelterrain.ai/internal/sim/terrain"
	"voxelterrain.ai/internal/sim/terrain/gen"
	"voxelterrain.ai/internal/sim/tuning"
	"voxelterrain.ai/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir     = flag.String("data", "", "runtime data directory (default: tuning data_dir)")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite block index")
		allowRemote = flag.Bool("allow_remote_observers", false, "accept observer connections from non-loopback addresses")
		spawn       = flag.String("viewer", "0,0,0", "initial viewer position in voxels (x,y,z)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	root := strings.TrimSpace(*dataDir)
	if root == "" {
		root = tune.DataDir
	}
	worldDir := filepath.Join(root, "terrain")
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		logger.Fatalf("create data dir: %v", err)
	}

	// Optional: block index (does not affect what is loaded).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	// Optional: off-box copy of every saved block file.
	mirror, err := openBlockMirror(worldDir, logger)
	if err != nil {
		logger.Fatalf("block mirror: %v", err)
	}

	var sinks blockSinks
	if idx != nil {
		sinks = append(sinks, idx)
	}
	if mirror != nil {
		sinks = append(sinks, mirror)
	}

	generator := gen.New(tune.GenConfig())
	streamOpts := vxb.Options{
		BlockSize: tune.BlockSizeVec(),
		LODCount:  tune.LODCount,
		Fallback:  generator,
		Logger:    logger,
	}
	if len(sinks) > 0 {
		streamOpts.Index = sinks
	}
	stream, err := vxb.NewStream(streamOpts)
	if err != nil {
		logger.Fatalf("block stream: %v", err)
	}
	defer stream.Close()
	stream.SetDirectory(worldDir)
	meta, err := stream.Meta()
	if err != nil {
		logger.Fatalf("block stream meta: %v", err)
	}
	if mirror != nil {
		mirror.Enqueue(filepath.Join(worldDir, vxb.MetaFileName))
	}
	if meta.BlockSize != tune.BlockSizeVec() {
		logger.Printf("block size %v from %s overrides tuning %v", meta.BlockSize, vxb.MetaFileName, tune.BlockSizeVec())
	}

	viewer := &terrain.PointViewer{}
	if p, err := parseVec3(*spawn); err != nil {
		logger.Fatalf("viewer: %v", err)
	} else {
		viewer.SetPosition(p)
	}

	tr := terrain.New(terrain.Options{
		BlockSize:          meta.BlockSize,
		Provider:           stream,
		Saver:              stream,
		Mesher:             mesher.NewGreedy(),
		Viewer:             viewer,
		Budget:             tune.Budget(),
		GenerateCollisions: tune.GenerateCollisions,
		EditQueue:          tune.EditQueue,
		ViewDistance:       tune.ViewDistance,
		Logger:             logger,
	})

	stats := &statsRecorder{}
	hub := observer.NewHub(observer.Options{
		Viewer:      viewer,
		Edits:       tr.Edits(),
		AllowRemote: *allowRemote,
		Logger:      logger,
		Bootstrap: func() observerproto.BootstrapResponse {
			return observerproto.BootstrapResponse{
				ProtocolVersion: observerproto.Version,
				Tick:            stats.Last().Tick,
				WorldParams: observerproto.WorldParams{
					TickRateHz:   tune.TickRateHz,
					BlockSize:    meta.BlockSize.Array(),
					LODCount:     int(meta.LODCount),
					Seed:         tune.Worldgen.Seed,
					ViewDistance: tune.ViewDistance,
				},
				Materials: gen.MaterialNames(),
			}
		},
	})
	tr.SetPresenter(hub)

	tickLog := persistlog.NewTickLogger(worldDir)
	editLog := persistlog.NewEditLogger(worldDir)
	defer tickLog.Close()
	defer editLog.Close()
	tr.AddTickObserver(stats)
	tr.AddTickObserver(tickLog)
	tr.AddTickObserver(hub)
	if idx != nil {
		tr.AddTickObserver(idx)
	}
	tr.AddEditObserver(editLog)

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := tr.Run(ctx, tune.TickInterval()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("terrain stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := stats.Last()

		fmt.Fprintf(rw, "# HELP voxelterrain_tick Last tick that processed blocks.\n")
		fmt.Fprintf(rw, "# TYPE voxelterrain_tick gauge\n")
		fmt.Fprintf(rw, "voxelterrain_tick %d\n", st.Tick)

		fmt.Fprintf(rw, "# HELP voxelterrain_pending_blocks Blocks waiting to be processed.\n")
		fmt.Fprintf(rw, "# TYPE voxelterrain_pending_blocks gauge\n")
		fmt.Fprintf(rw, "voxelterrain_pending_blocks %d\n", st.Remaining)

		fmt.Fprintf(rw, "# HELP voxelterrain_tick_us Duration of the last processing tick in microseconds.\n")
		fmt.Fprintf(rw, "# TYPE voxelterrain_tick_us gauge\n")
		fmt.Fprintf(rw, "voxelterrain_tick_us %d\n", st.ElapsedMicros)

		fmt.Fprintf(rw, "# HELP voxelterrain_blocks_total Blocks handled by kind.\n")
		fmt.Fprintf(rw, "# TYPE voxelterrain_blocks_total counter\n")
		totals := stats.Totals()
		fmt.Fprintf(rw, "voxelterrain_blocks_total{kind=%q} %d\n", "emerged", totals.Emerged)
		fmt.Fprintf(rw, "voxelterrain_blocks_total{kind=%q} %d\n", "meshed", totals.Meshed)
		fmt.Fprintf(rw, "voxelterrain_blocks_total{kind=%q} %d\n", "cleared", totals.Cleared)
		fmt.Fprintf(rw, "voxelterrain_blocks_total{kind=%q} %d\n", "skipped", totals.Skipped)

		fmt.Fprintf(rw, "# HELP voxelterrain_observers Connected observer clients.\n")
		fmt.Fprintf(rw, "# TYPE voxelterrain_observers gauge\n")
		fmt.Fprintf(rw, "voxelterrain_observers %d\n", hub.ClientCount())

		fmt.Fprintf(rw, "# HELP voxelterrain_observer_dropped_total Observer messages dropped on full queues.\n")
		fmt.Fprintf(rw, "# TYPE voxelterrain_observer_dropped_total counter\n")
		fmt.Fprintf(rw, "voxelterrain_observer_dropped_total %d\n", hub.Dropped())

		if idx != nil {
			s := idx.Stats()
			fmt.Fprintf(rw, "# HELP voxelterrain_index_queue_depth Block index queue depth.\n")
			fmt.Fprintf(rw, "# TYPE voxelterrain_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "voxelterrain_index_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "# HELP voxelterrain_index_dropped_total Block index writes dropped.\n")
			fmt.Fprintf(rw, "# TYPE voxelterrain_index_dropped_total counter\n")
			fmt.Fprintf(rw, "voxelterrain_index_dropped_total{kind=%q} %d\n", "block", s.DropBlockTotal)
			fmt.Fprintf(rw, "voxelterrain_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
		}
		if mirror != nil {
			s := mirror.Stats()
			fmt.Fprintf(rw, "# HELP voxelterrain_mirror_queue_depth Block mirror upload queue depth.\n")
			fmt.Fprintf(rw, "# TYPE voxelterrain_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "voxelterrain_mirror_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "# HELP voxelterrain_mirror_uploads_total Block mirror uploads by result.\n")
			fmt.Fprintf(rw, "# TYPE voxelterrain_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "voxelterrain_mirror_uploads_total{result=%q} %d\n", "ok", s.UploadSuccessTotal)
			fmt.Fprintf(rw, "voxelterrain_mirror_uploads_total{result=%q} %d\n", "failed", s.UploadFailTotal)
			fmt.Fprintf(rw, "voxelterrain_mirror_uploads_total{result=%q} %d\n", "dropped", s.DroppedTotal)
		}
	})
	mux.HandleFunc("/observer/bootstrap", hub.BootstrapHandler())
	mux.HandleFunc("/observer/ws", hub.WSHandler())

	if envBool("VT_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VT_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (blocks in %s)", *addr, stream.Directory())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}

	// The terrain is only touched by its own goroutine until Run returns.
	<-runDone
	if tune.SaveOnExit {
		if err := tr.SaveBlocks(); err != nil {
			logger.Printf("save blocks: %v", err)
		} else {
			logger.Printf("saved %d blocks", tr.Blocks().Len())
		}
	}
	if idx != nil {
		ctx3, cancel3 := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.Flush(ctx3); err != nil {
			logger.Printf("flush index: %v", err)
		}
		cancel3()
	}
	if mirror != nil {
		mirror.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// statsRecorder keeps the last tick stats and running totals for /metrics.
type statsRecorder struct {
	mu     sync.Mutex
	last   terrain.TickStats
	totals terrain.TickStats
}

func (s *statsRecorder) WriteTick(st terrain.TickStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = st
	s.totals.Processed += st.Processed
	s.totals.Emerged += st.Emerged
	s.totals.Meshed += st.Meshed
	s.totals.Cleared += st.Cleared
	s.totals.Skipped += st.Skipped
	return nil
}

func (s *statsRecorder) Last() terrain.TickStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *statsRecorder) Totals() terrain.TickStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

func parseVec3(s string) (mgl32.Vec3, error) {
	var v mgl32.Vec3
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("want x,y,z, got %q", s)
	}
	for i, p := range parts {
		if _, err := fmt.Sscan(strings.TrimSpace(p), &v[i]); err != nil {
			return v, fmt.Errorf("component %d of %q: %v", i, s, err)
		}
	}
	if !mathx.InWorld(v) {
		return v, fmt.Errorf("%q is outside the world (|c| <= %d)", s, mathx.MaxCoord)
	}
	return v, nil
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
