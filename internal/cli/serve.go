package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"postback-engine/internal/attribution"
	"postback-engine/internal/config"
	"postback-engine/internal/database"
	"postback-engine/internal/handlers"
	"postback-engine/internal/kafka"
	"postback-engine/internal/logger"
	"postback-engine/internal/postback"
	"postback-engine/internal/registry"
	"postback-engine/internal/services"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the postback HTTP server",
		Long: `Run the postback HTTP server.

Redis caching of house lookups is enabled when REDIS_URL is set, and the
Kafka conversion feed when KAFKA_BROKER is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				opts.cfg.Port = port
			}
			return runServe(cmd.Context(), opts.cfg, opts.log)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port, overrides PORT")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	db, err := database.SetupDatabase(cfg.DatabaseURL, logger.GormLevel(cfg.LogLevel))
	if err != nil {
		log.WithError(err).Error("Failed to connect to database")
		return err
	}

	houses, closeCache := houseRegistry(db, cfg, log)
	defer closeCache()

	if cfg.SeedFile != "" {
		if err := seedFrom(ctx, db, houses, cfg.SeedFile, log); err != nil {
			log.WithError(err).Warn("Failed to seed database")
		}
	}

	pipelineOpts := postback.Options{
		Timeout:     cfg.PostbackTimeout,
		ClickBucket: cfg.ClickBucket,
	}

	var queue *services.PublishQueue
	if cfg.KafkaBroker != "" {
		publisher := kafka.NewConversionPublisher(kafka.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaTopic), log)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.WithError(err).Error("Failed to close Kafka writer")
			}
		}()
		queue = services.NewPublishQueue(publisher, log, cfg.PublishQueueSize)
		pipelineOpts.Publisher = queue
	}

	pipeline := postback.NewPipeline(db, houses, attribution.NewResolver(db, log), log, pipelineOpts)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handlers.NewServer(db, log, pipeline)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		closeDB(db, log)
		return err
	}
	log.WithField("port", cfg.Port).Info("Server started")

	err = serveUntilDone(ctx, log, srv, ln, queue)
	closeDB(db, log)
	if err != nil {
		return err
	}
	log.Info("Server exited")
	return nil
}

// serveUntilDone serves on ln until ctx is cancelled. The publish queue gets
// its own context, cancelled only once Shutdown has drained in-flight
// requests, so conversions they commit still reach the feed.
func serveUntilDone(ctx context.Context, log *logrus.Logger, srv *http.Server, ln net.Listener, queue *services.PublishQueue) error {
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if queue != nil {
		g.Go(func() error {
			return queue.Run(queueCtx)
		})
	}
	g.Go(func() error {
		defer stopQueue()
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// houseRegistry returns the house registry, backed by Redis when REDIS_URL
// is set. The returned func releases the Redis client.
func houseRegistry(db *gorm.DB, cfg *config.Config, log *logrus.Logger) (*registry.Registry, func()) {
	houses := registry.New(db, log)
	if cfg.RedisURL == "" {
		return houses, func() {}
	}
	client, err := registry.Connect(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, house lookups go to the database")
		return houses, func() {}
	}
	houses.WithCache(registry.NewRedisCache(client), cfg.HouseCacheTTL)
	return houses, func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("Failed to close Redis client")
		}
	}
}

func closeDB(db *gorm.DB, log *logrus.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}
