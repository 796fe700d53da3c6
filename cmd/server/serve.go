package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpDelivery "github.com/visionlane/backend/internal/delivery/http"
	"github.com/visionlane/backend/internal/domain"
	"github.com/visionlane/backend/internal/infrastructure/catalog"
	"github.com/visionlane/backend/internal/infrastructure/detector"
	"github.com/visionlane/backend/internal/infrastructure/emitter"
	"github.com/visionlane/backend/internal/infrastructure/payment"
	"github.com/visionlane/backend/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the checkout lane API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := zap.L()
		logger.Info("starting visionlane backend",
			zap.String("version", "1.0.0"),
			zap.String("environment", cfg.Server.Environment),
			zap.String("lane_id", cfg.Checkout.LaneID),
		)

		products, err := catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		logger.Info("catalog loaded", zap.Int("products", products.Len()), zap.String("path", cfg.Catalog.Path))

		session := usecase.NewSession(products, usecase.SessionConfig{
			TaxRate:            cfg.Checkout.TaxRate,
			ReverifyAgePerUnit: cfg.Checkout.ReverifyAgePerUnit,
			MaxLineQuantity:    cfg.Checkout.MaxLineQuantity,
			Classifier: usecase.ClassifierConfig{
				ConfidenceThreshold: cfg.Checkout.ConfidenceThreshold,
				DefaultConfidence:   cfg.Checkout.DefaultConfidence,
				MaxAlternatives:     maxAlternatives(cfg.Checkout.MaxAlternatives),
			},
		})

		terminal := payment.NewTerminal(cfg.Payment.Methods, logger.Named("payment"))

		var source domain.DetectionSource
		var simulator *detector.Simulator
		if cfg.Detector.Enabled {
			simulator = detector.NewSimulator(products, detector.SimulatorConfig{
				Interval:          cfg.Detector.Interval,
				MinDelay:          cfg.Detector.MinDelay,
				MaxDelay:          cfg.Detector.MaxDelay,
				DefaultConfidence: cfg.Checkout.DefaultConfidence,
			}, logger.Named("detector"))
			defer simulator.Close()
			source = simulator
		} else {
			logger.Warn("detection simulator disabled, no detections will arrive")
		}

		g, gctx := errgroup.WithContext(ctx)

		var events domain.EventEmitter = emitter.NopEmitter{}
		var mqttEmitter *emitter.MQTTEmitter
		if cfg.MQTT.Enabled {
			mqttEmitter = emitter.NewMQTTEmitter(emitter.MQTTConfig{
				Broker:   cfg.MQTT.Broker,
				ClientID: cfg.MQTT.ClientID,
				Topic:    cfg.MQTT.Topic,
				LaneID:   cfg.Checkout.LaneID,
				QoS:      byte(cfg.MQTT.QoS),
			}, nil, logger.Named("mqtt"))
			if err := mqttEmitter.Connect(); err != nil {
				// Store monitoring is optional; the client keeps retrying.
				logger.Warn("mqtt connect failed", zap.Error(err))
			}
			g.Go(func() error { return mqttEmitter.Run(gctx) })
			events = mqttEmitter
		}

		orchestrator := usecase.NewOrchestrator(session, source, terminal, events, logger.Named("orchestrator"), usecase.OrchestratorConfig{
			LaneID: cfg.Checkout.LaneID,
		})
		g.Go(func() error { return orchestrator.Run(gctx) })

		handler := httpDelivery.NewHandler(orchestrator, products, terminal, logger.Named("http"))
		if simulator != nil {
			handler.RegisterStatus("detector", func() interface{} { return simulator.Stats() })
		}
		if mqttEmitter != nil {
			handler.RegisterStatus("mqtt", func() interface{} { return mqttEmitter.Stats() })
		}
		router := httpDelivery.SetupRouter(cfg, handler, logger.Named("http"))

		port := servePort
		if port == "" {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down server")
			if simulator != nil {
				stats := simulator.Stats()
				logger.Info("detector stats",
					zap.Uint64("fired", stats.Fired),
					zap.Uint64("emitted", stats.Emitted),
					zap.Uint64("discarded", stats.Discarded),
				)
			}
			if mqttEmitter != nil {
				stats := mqttEmitter.Stats()
				logger.Info("mqtt stats",
					zap.Any("published", stats.Published),
					zap.Uint64("dropped", stats.Dropped),
					zap.Uint64("errors", stats.Errors),
				)
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

// maxAlternatives maps the config value, where 0 disables synthesized
// candidates, onto the classifier setting.
func maxAlternatives(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
