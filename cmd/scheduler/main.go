package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/buildnet/build-scheduler/config/logger"
	postgresCfg "github.com/buildnet/build-scheduler/config/storage/postgresql"
	redisCfg "github.com/buildnet/build-scheduler/config/storage/redis"
	config "github.com/buildnet/build-scheduler/config/utils"
	archivePg "github.com/buildnet/build-scheduler/internal/adapter/archive/postgres"
	"github.com/buildnet/build-scheduler/internal/adapter/monitoring/prometheus"
	"github.com/buildnet/build-scheduler/internal/adapter/queue/rabbitmq"
	stateRedis "github.com/buildnet/build-scheduler/internal/adapter/state/redis"
	"github.com/buildnet/build-scheduler/internal/core/domain"
	"github.com/buildnet/build-scheduler/internal/core/port"
	"github.com/buildnet/build-scheduler/internal/core/service"
)

// _shutdownDrainDelay is time to sleep while context shutdown propagates
const _shutdownDrainDelay = 1 * time.Second

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config & logger
	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)
	zap.L().Info("Starting the build scheduler",
		zap.String("app", appConfig.App.Name),
		zap.String("env", appConfig.App.Env),
		zap.String("owner", appConfig.App.Owner))

	// State backend (required)
	redisService, err := redisCfg.New(rootCtx, appConfig.Redis)
	if err != nil {
		zap.L().Error("Error initializing state backend connection", zap.Error(err))
		os.Exit(1)
	}
	defer redisService.Close()
	zap.L().Info("Successfully connected to the state backend", zap.String("address", appConfig.Redis.Addr))
	stateManager := stateRedis.NewStateManager(redisService.Client, baseLogger.Named("State"))

	// Task archive (optional)
	var archive port.TaskArchive
	if appConfig.DB != nil && appConfig.DB.Enabled {
		dbLogger := baseLogger.Named("DB")
		dbService, err := postgresCfg.New(rootCtx, appConfig.DB, dbLogger)
		if err != nil {
			zap.L().Error("Error initializing archive database connection", zap.Error(err))
			os.Exit(1)
		}
		defer dbService.Close()
		if err := dbService.Migrate(); err != nil {
			zap.L().Error("Error migrating archive database", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Successfully migrated the archive database")
		archive = archivePg.NewTaskArchive(dbService, dbLogger)
	}

	// Assignment broker (optional)
	var notifier port.Notifier
	if appConfig.MQ != nil && appConfig.MQ.Enabled {
		mq := appConfig.MQ
		vhost := mq.VHost
		if vhost == "" {
			vhost = "/"
		}
		brokerURL := fmt.Sprintf("amqp://%s:%s@%s:%s%s", mq.User, mq.Password, mq.Host, mq.Port, vhost)
		n, err := rabbitmq.NewNotifier(brokerURL, baseLogger.Named("MQ"))
		if err != nil {
			zap.L().Error("Error initializing assignment broker", zap.Error(err))
			os.Exit(1)
		}
		defer n.Close()
		notifier = n
		zap.L().Info("Successfully connected to the assignment broker", zap.String("host", mq.Host))
	}

	// Scheduler service
	schedulerCfg := service.Config{
		ProcessInterval:  time.Duration(appConfig.Scheduler.ProcessIntervalMS) * time.Millisecond,
		MaxRetries:       appConfig.Scheduler.MaxRetries,
		HeartbeatTimeout: time.Duration(appConfig.Scheduler.HeartbeatTimeoutMS) * time.Millisecond,
	}
	sched := service.NewScheduler(schedulerCfg, stateManager, notifier, archive, baseLogger.Named("Scheduler"))
	if err := sched.Start(rootCtx); err != nil {
		zap.L().Error("Error starting scheduler", zap.Error(err))
		os.Exit(1)
	}

	// Node load refresher (optional)
	if appConfig.Monitoring != nil && appConfig.Monitoring.Enabled {
		metrics := prometheus.NewMetricsSource(appConfig.Monitoring.PrometheusURL, baseLogger.Named("Metrics"))
		interval := time.Duration(appConfig.Monitoring.PollIntervalMS) * time.Millisecond
		go refreshNodeLoads(rootCtx, sched, metrics, interval, baseLogger.Named("Metrics"))
	}

	// Wait for ctx cancelation
	<-rootCtx.Done()
	zap.L().Info("Shutting down...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	sched.Stop(stopCtx)

	time.Sleep(_shutdownDrainDelay)
	zap.L().Info("Graceful shutdown complete.")
}

// refreshNodeLoads polls the monitoring backend and feeds usage samples
// into the registry between worker heartbeats.
func refreshNodeLoads(ctx context.Context, sched *service.Scheduler, metrics port.MetricsSource, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples, err := metrics.AllNodeMetrics(ctx)
			if err != nil {
				log.Warn("Failed to fetch batch node metrics", zap.Error(err))
				continue
			}
			for nodeID, sample := range samples {
				load := domain.NodeLoad{CPUUsed: sample.CPUUsage, MemoryUsedGB: sample.MemUsage}
				sched.UpdateNodeStatus(nodeID, service.NodeUpdate{CurrentLoad: &load})
			}
		}
	}
}
