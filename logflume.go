package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/logflume/admin"
	"github.com/maxpert/logflume/cache"
	"github.com/maxpert/logflume/cfg"
	"github.com/maxpert/logflume/encoding"
	"github.com/maxpert/logflume/monitor"
	"github.com/maxpert/logflume/publish"
	"github.com/maxpert/logflume/store"
	"github.com/maxpert/logflume/telemetry"
)

// Event is the record shipped for each input line.
type Event struct {
	Time int64  `msgpack:"ts"`
	Line string `msgpack:"line"`
}

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging. Records go to stdout, logs stay on stderr.
	var writer io.Writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("logflume - buffered log shipping")
	telemetry.InitializeTelemetry()

	factory, cleanup, err := buildStoreFactory()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize buffer storage")
		return
	}
	defer cleanup()

	sink, err := buildSink()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sink")
		return
	}

	filter, err := publish.NewStreamFilter(cfg.Config.Sink.Streams, cfg.Config.Sink.ExcludeStreams)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid stream filter")
		return
	}

	codec := encoding.Msgpack[Event]{}
	publisher, err := publish.NewSinkPublisher[Event](sink, codec,
		publish.WithTopicPrefix(cfg.Config.Sink.TopicPrefix),
		publish.WithStreamFilter(filter),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize publisher")
		return
	}
	defer publisher.Close()

	c, err := cache.New(cache.Config[Event]{
		Name:      cfg.Config.StreamName,
		Monitor:   buildMonitor(),
		Publisher: publisher,
		Codec:     codec,
		NewStore:  factory,
		Verbose:   cfg.Config.Logging.Verbose,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event cache")
		return
	}

	if cfg.Config.Admin.Enabled {
		go serveAdmin(cfg.Config.Admin.Address)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shipLines(ctx, c)

	// Drain what is still buffered on the caller, then stop all caches.
	c.FlushAndPublish(true)
	if !cache.ShutdownAll(context.Background()) {
		log.Error().Msg("Shutdown incomplete, some batches may be lost")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// shipLines buffers one event per stdin line until EOF or a signal.
func shipLines(ctx context.Context, c *cache.Cache[Event]) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Error().Err(err).Msg("Failed reading input")
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			event := Event{Time: time.Now().UnixMilli(), Line: line}
			if err := c.Add(event); err != nil {
				// The caller's call: we drop the line and keep shipping.
				log.Error().Err(err).Msg("Failed to buffer event, line dropped")
			}
		case <-ctx.Done():
			log.Info().Msg("Signal received, draining")
			return
		}
	}
}

func buildStoreFactory() (store.Factory, func(), error) {
	switch cfg.Config.Buffer.Store {
	case cfg.StoreMemory:
		return store.InMemory(), func() {}, nil
	case cfg.StorePebble:
		backing, err := store.OpenPebble(cfg.Config.Buffer.DataDir)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := backing.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close scratch database")
			}
		}
		return backing.Factory(), cleanup, nil
	default:
		var opts []store.FileOption
		if cfg.Config.Buffer.Compress {
			opts = append(opts, store.WithCompression())
		}
		return store.TempFile(cfg.Config.Buffer.DataDir, opts...), func() {}, nil
	}
}

func buildSink() (publish.Sink, error) {
	switch cfg.Config.Sink.Type {
	case cfg.SinkNats:
		return publish.NewNatsSink(cfg.Config.Sink.NatsURL)
	case cfg.SinkKafka:
		return publish.NewKafkaSink(cfg.Config.Sink)
	default:
		return publish.NewConsoleSink(nil), nil
	}
}

func buildMonitor() cache.Monitor[Event] {
	buffer := cfg.Config.Buffer
	if buffer.Capacity > 0 {
		if buffer.FlushIntervalMS > 0 {
			log.Warn().Msg("Both capacity and flush interval configured, using capacity")
		}
		return monitor.NewCapacity[Event](buffer.Capacity)
	}
	if buffer.FlushIntervalMS > 0 {
		return monitor.NewInterval[Event](time.Duration(buffer.FlushIntervalMS) * time.Millisecond)
	}
	log.Warn().Msg("No flush trigger configured, draining only at exit")
	return monitor.Noop[Event]{}
}

func serveAdmin(addr string) {
	handlers := admin.NewHandlers(nil)
	log.Info().Str("address", addr).Msg("Starting admin server")
	if err := http.ListenAndServe(addr, admin.Router(handlers)); err != nil {
		log.Error().Err(err).Msg("Admin server stopped")
	}
}
