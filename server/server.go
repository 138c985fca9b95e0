package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/actions"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/crons"
	"gitlab.com/paramountdax-exchange/commission_engine/events"
	"gitlab.com/paramountdax-exchange/commission_engine/featureflags"
	"gitlab.com/paramountdax-exchange/commission_engine/monitor"
	"gitlab.com/paramountdax-exchange/commission_engine/net/kafka"
	"gitlab.com/paramountdax-exchange/commission_engine/service"
)

// Server interface
type Server interface {
	Listen()
}

type server struct {
	config   config.Config
	actions  *actions.Actions
	service  *service.Service
	consumer *events.Consumer
	release  func()
	ctx      context.Context
	close    context.CancelFunc
	workers  sync.WaitGroup
	HTTP     *http.Server
}

// NewServer connects the infrastructure and builds the engine
func NewServer(cfg config.Config) Server {
	ctx, close := context.WithCancel(context.Background())

	deps, release, err := service.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("section", "server").Msg("Unable to connect dependencies")
	}
	dataServices, err := service.NewService(cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Str("section", "server").Msg("Unable to initialize the commission engine")
	}

	srv := &server{
		config:  cfg,
		service: dataServices,
		actions: actions.NewActions(cfg.Server.API, dataServices),
		release: release,
		ctx:     ctx,
		close:   close,
	}
	if len(cfg.Kafka.Brokers) > 0 {
		reader := kafka.NewKafkaConsumer(cfg.Kafka.Reader, cfg.Kafka.Brokers, cfg.Kafka.UseTLS, cfg.Topics.Events)
		deadLetter := kafka.NewKafkaProducer(cfg.Kafka.Writer, cfg.Kafka.Brokers, cfg.Kafka.UseTLS, cfg.Topics.DeadLetter)
		srv.consumer = events.NewConsumer(
			reader,
			deadLetter,
			dataServices,
			cfg.Workers.EventWorkers,
			time.Duration(cfg.Workers.EventRetryWindow)*time.Second,
			cfg.Workers.ConsumerBatchSize,
		)
		srv.release = func() {
			_ = reader.Close()
			_ = deadLetter.Close()
			release()
		}
	}
	return srv
}

// Listen starts the API, the event consumer and the crons, then blocks until a termination signal
func (srv *server) Listen() {
	srv.HTTP = srv.newHTTPServer()
	go srv.ListenToRequests()
	go monitor.LoopProfilingServer(srv.config.Server.Monitoring)

	if srv.consumer != nil {
		srv.workers.Add(1)
		go func() {
			defer srv.workers.Done()
			if err := srv.consumer.Run(srv.ctx); err != nil {
				log.Error().Err(err).Str("section", "server").Msg("Event consumer stopped")
			}
		}()
	} else {
		log.Warn().Str("section", "server").Msg("No kafka brokers configured, events are only accepted over HTTP")
	}

	crons.Start(srv.ctx, srv.config.Crons, srv.service)

	srv.stopOnSignal()
}

func (srv *server) stopOnSignal() {
	// listen for termination signals
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc

	log.Info().Str("section", "server").Str("app_event", "terminate").Str("signal", sig.String()).Msg("Shutting down services")
	srv.closeApp(10 * time.Second)
}

func (srv *server) closeApp(timeout time.Duration) {
	// define a timeout in which the graceful shutdown procedure should happen before forcing the shutdown
	timeoutFunc := time.AfterFunc(timeout, func() {
		log.Warn().Int64("timeout_ms", timeout.Milliseconds()).Msg("Graceful shutdown timed out, force exit")
		os.Exit(1)
	})
	defer timeoutFunc.Stop()

	monitor.ShutdownServer()
	if err := srv.HTTP.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Str("section", "server").Str("action", "terminate").Msg("Unable to shutdown HTTP server")
	}

	crons.Close()
	srv.close()
	srv.workers.Wait()

	featureflags.Close()
	srv.release()

	log.Info().Str("section", "server").Str("app_event", "terminate").Str("state", "complete").Msg("All workers terminated")
}
