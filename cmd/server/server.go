// Package server implements the server command.
package server

import (
	"context"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/dronenet-go/internal/api"
	"github.com/tphakala/dronenet-go/internal/calibration"
	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/datastore"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/localization"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/mqtt"
	"github.com/tphakala/dronenet-go/internal/notification"
	"github.com/tphakala/dronenet-go/internal/observability"
	"github.com/tphakala/dronenet-go/internal/receiver"
	"github.com/tphakala/dronenet-go/internal/runtime"
	"github.com/tphakala/dronenet-go/internal/store"
)

const apiShutdownTimeout = 5 * time.Second

// Command creates the command that runs the fusion server.
func Command(rt *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the fusion server",
		Long:  "Receive node frames, localize the source and serve the status API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			settings, err := conf.LoadServer(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), rt, settings)
		},
	}
}

// stopFunc is one shutdown step.
type stopFunc struct {
	name string
	fn   func() error
}

func run(parent context.Context, rt *runtime.Context, settings *conf.ServerSettings) error {
	cleanup, err := rt.Setup(settings.Logging, settings.Debug, &settings.Sentry, "server")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	log := logger.Global().Module("server")

	var stops []stopFunc
	defer func() {
		for _, s := range slices.Backward(stops) {
			err := s.fn()
			switch {
			case err == nil:
			case errors.IsTimeout(err):
				log.Warn("component did not stop in time", logger.String("component", s.name))
			default:
				log.Warn("shutdown step failed", logger.String("component", s.name), logger.Error(err))
			}
		}
	}()

	m, err := observability.NewServerMetrics()
	if err != nil {
		return err
	}

	st := store.New()
	engine := localization.NewEngine(localization.ConfigFromSettings(settings), st,
		localization.WithMetrics(m.Localization))

	var ds datastore.Interface
	if settings.Datastore.Enabled {
		if ds, err = datastore.New(&settings.Datastore, settings.Debug); err != nil {
			return err
		}
		if err := ds.Open(); err != nil {
			return err
		}
		ds.SetMetrics(m.Datastore)
		stops = append(stops, stopFunc{"datastore", ds.Close})

		recorder := datastore.NewRecorder(ds, settings.Datastore.TrackInterval)
		engine.OnUpdate(recorder.Observe)
		recorder.Start(ctx)
		stops = append(stops, stopFunc{"recorder", recorder.Stop})
	}

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(mqtt.ConfigFromSettings(&settings.MQTT), m.MQTT)
		if err := client.Connect(ctx); err != nil {
			log.Warn("MQTT broker unavailable, will retry on publish", logger.Error(err))
		}
		stops = append(stops, stopFunc{"mqtt client", func() error { client.Disconnect(); return nil }})

		publisher := mqtt.NewPublisher(client, settings.MQTT.Topic)
		engine.OnUpdate(publisher.Observe)
		publisher.Start(ctx)
		stops = append(stops, stopFunc{"mqtt publisher", publisher.Stop})
	}

	if settings.Notification.Enabled {
		sender, err := notification.NewShoutrrrSender(settings.Notification.URLs, notification.DefaultSendTimeout)
		if err != nil {
			return err
		}
		notifier := notification.NewTrackNotifier(sender, settings.Notification.LostAfter)
		engine.OnUpdate(notifier.Observe)
		notifier.Start(ctx)
		stops = append(stops, stopFunc{"notifier", notifier.Stop})
	}

	calOpts := []calibration.Option{calibration.WithPollInterval(settings.Calibration.PollInterval)}
	if ds != nil {
		calOpts = append(calOpts, calibration.WithSink(ds))
	}
	calibrations := calibration.NewManager(st, settings.Calibration.ConfigDir, calOpts...)
	calibrations.Start(ctx)
	stops = append(stops, stopFunc{"calibration", calibrations.Stop})

	if settings.Web.Enabled {
		controller := api.New(settings, st,
			api.WithCalibration(calibrations),
			api.WithMetricsHandler(m.Handler()),
			api.WithStreamInterval(settings.Web.StreamInterval))
		controller.Start(settings.Web.Address())
		stops = append(stops, stopFunc{"api", func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
			defer cancel()
			return controller.Shutdown(shutdownCtx)
		}})
	}

	rcv := receiver.New(receiver.ConfigFromSettings(settings), st, receiver.WithMetrics(m.Receiver))
	if err := rcv.Start(ctx); err != nil {
		return err
	}
	stops = append(stops, stopFunc{"receiver", rcv.Stop})

	if err := engine.Start(ctx); err != nil {
		return err
	}
	stops = append(stops, stopFunc{"localization", engine.Stop})

	log.Info("fusion server running",
		logger.String("listen", settings.Listen.Address()),
		logger.Int("nodes", len(settings.Nodes)),
		logger.Bool("api", settings.Web.Enabled),
		logger.Bool("mqtt", settings.MQTT.Enabled),
		logger.Bool("datastore", settings.Datastore.Enabled),
		logger.Bool("notifications", settings.Notification.Enabled))

	<-ctx.Done()
	log.Info("shutting down fusion server")
	return nil
}
