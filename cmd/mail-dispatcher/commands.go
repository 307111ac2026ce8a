package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sungwon/mail-dispatcher/internal/api"
	"github.com/sungwon/mail-dispatcher/internal/config"
	"github.com/sungwon/mail-dispatcher/internal/mail"
	"github.com/sungwon/mail-dispatcher/internal/queue"
	smtpsink "github.com/sungwon/mail-dispatcher/internal/smtp"
	"github.com/sungwon/mail-dispatcher/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func newLambdaCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an SQS-triggered Lambda handler with partial batch responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLambda(cmd.Context(), *configDir)
		},
	}
}

// runLambda builds the pipeline once per cold start and serves invocations.
// lambda.Start never returns; the runtime owns process teardown, so the
// clients are left open for the life of the execution environment.
func runLambda(ctx context.Context, configDir string) error {
	cfg, log, err := setup(configDir)
	if err != nil {
		return err
	}

	handler, err := newLambdaHandler(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Info().Msg("starting lambda handler")
	lambda.Start(handler.Handle)
	return nil
}

func newLambdaHandler(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*queue.LambdaHandler, error) {
	comps, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return queue.NewLambdaHandler(comps.processor, log), nil
}

func newPollCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Long-poll the SQS queue and dispatch batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configDir)
			if err != nil {
				return err
			}
			if cfg.Queue.SQSQueueURL == "" {
				return errors.New("queue.sqs_queue_url is required for poll")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			comps, err := buildComponents(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer comps.Close()

			awsCfg, err := loadAWSConfig(ctx, cfg.Queue.SQSRegion)
			if err != nil {
				return err
			}

			poller := queue.NewSQSPoller(queue.NewAWSSQSClient(awsCfg), comps.processor, queue.PollerConfig{
				QueueURL:        cfg.Queue.SQSQueueURL,
				WaitTime:        cfg.Queue.SQSWaitTime,
				VisTimeout:      cfg.Queue.SQSVisTimeout,
				MaxMessages:     cfg.Queue.MaxMessages,
				ShutdownTimeout: shutdownTimeout,
			}, log)

			srv := &http.Server{
				Addr:              cfg.Metrics.Addr,
				Handler:           api.NewRouter(comps.checks, log),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("ops server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("ops server error")
				}
			}()

			if err := poller.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			log.Info().Msg("shutting down poller")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := poller.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("poller shutdown error")
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("ops server shutdown error")
			}

			log.Info().Msg("poller stopped")
			return nil
		},
	}
}

func newEnqueueCmd(configDir *string) *cobra.Command {
	var p mail.Payload

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish one mail request to the SQS queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configDir)
			if err != nil {
				return err
			}
			if cfg.Queue.SQSQueueURL == "" {
				return errors.New("queue.sqs_queue_url is required for enqueue")
			}

			awsCfg, err := loadAWSConfig(cmd.Context(), cfg.Queue.SQSRegion)
			if err != nil {
				return err
			}

			enqueuer := queue.NewSQSEnqueuer(queue.NewAWSSQSClient(awsCfg), cfg.Queue.SQSQueueURL, log)
			id, err := enqueuer.Enqueue(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&p.Address, "to", "", "recipient address")
	cmd.Flags().StringVar(&p.Subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&p.Message, "message", "", "plain text body")
	cmd.Flags().StringVar(&p.ServiceName, "service", "", "calling service name used for region routing")
	return cmd
}

func newSinkCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sink",
		Short: "Run a local SMTP sink that captures relayed mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configDir)
			if err != nil {
				return err
			}

			backend := smtpsink.NewBackend(
				smtpsink.Credentials{Username: cfg.Sink.Username, Password: cfg.Sink.Password},
				smtpsink.NewInbox(cfg.Sink.Capacity),
				log,
				cfg.Sink.MaxConnections,
			)
			s := smtpsink.NewServer(smtpsink.ServerConfig{
				Addr:            cfg.Sink.Addr,
				ReadTimeout:     cfg.Sink.ReadTimeout,
				WriteTimeout:    cfg.Sink.WriteTimeout,
				MaxMessageBytes: cfg.Sink.MaxMessageBytes,
			}, backend)

			ln, err := net.Listen("tcp", s.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", s.Addr, err)
			}

			go func() {
				log.Info().Str("addr", s.Addr).Msg("SMTP sink listening")
				if err := s.Serve(ln); err != nil {
					log.Error().Err(err).Msg("SMTP sink error")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down SMTP sink")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("SMTP sink shutdown error")
			}
			return nil
		},
	}
}

func newMigrateCmd(configDir *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema for the postgres lock and region backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configDir)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required for migrate")
			}

			db, err := storage.NewDB(cmd.Context(), cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context(), dir); err != nil {
				return err
			}
			log.Info().Str("dir", dir).Msg("migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory containing *.up.sql files")
	return cmd
}
