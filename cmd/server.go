package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/control"
	"github.com/jake-scott/bravia-control/internal/pkg/handlers"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
	"github.com/jake-scott/bravia-control/internal/pkg/mqttbridge"
	"github.com/jake-scott/bravia-control/pkg/middlewares"
)

var _serverCmdOpts struct {
	httpPort        uint16
	gracefulTimeout time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	discoverTimeout time.Duration
	corsOrigins     []string
	logRequests     bool
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the admin and control web server",
	Long: `Serves the admin queries used while configuring a TV (discovery, method
catalogue, remote control codes) and prometheus metrics.  When a TV is
configured the polling controller runs as well and can be driven over HTTP
and MQTT.`,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		bindControllerFlags(cmd)
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doServer(); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	serverCmd.Flags().Uint16Var(&_serverCmdOpts.httpPort, "http-port", 8080, "HTTP port number")
	serverCmd.Flags().DurationVar(&_serverCmdOpts.gracefulTimeout, "graceful-timeout", time.Second*15, "duration to wait for server to finish, eg. 1m or 10s")
	serverCmd.Flags().DurationVar(&_serverCmdOpts.readTimeout, "read-timeout", time.Second*15, "duration to wait for request read, eg. 1m or 10s")
	serverCmd.Flags().DurationVar(&_serverCmdOpts.writeTimeout, "write-timeout", time.Second*60, "duration to wait for request write, eg. 1m or 10s")
	serverCmd.Flags().DurationVar(&_serverCmdOpts.discoverTimeout, "discover-timeout", bravia.DefaultDiscoverTimeout, "how long a discovery request collects replies")
	serverCmd.Flags().StringSliceVar(&_serverCmdOpts.corsOrigins, "cors-origins", []string{"*"}, "origins allowed to call the admin endpoints")
	serverCmd.Flags().BoolVar(&_serverCmdOpts.logRequests, "log-requests", false, "log requests and responses (only in debug mode)")
	serverCmd.Flags().String("ssdp-address", bravia.SSDPAddress, "address discovery searches are sent to")
	addControllerFlags(serverCmd)

	errPanic(viper.GetViper().BindPFlag("http.port", serverCmd.Flags().Lookup("http-port")))
	errPanic(viper.GetViper().BindPFlag("http.graceful-timeout", serverCmd.Flags().Lookup("graceful-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.read-timeout", serverCmd.Flags().Lookup("read-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.write-timeout", serverCmd.Flags().Lookup("write-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.discover-timeout", serverCmd.Flags().Lookup("discover-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.cors-origins", serverCmd.Flags().Lookup("cors-origins")))
	errPanic(viper.GetViper().BindPFlag("logging.log-requests", serverCmd.Flags().Lookup("log-requests")))
	errPanic(viper.GetViper().BindPFlag("http.ssdp-address", serverCmd.Flags().Lookup("ssdp-address")))

	rootCmd.AddCommand(serverCmd)
}

func adminClient(cfg bravia.Config) *bravia.Client {
	cfg.Timeout = viper.GetDuration("tv.timeout")
	return bravia.NewClient(cfg)
}

func doServer() error {
	wait := viper.GetDuration("http.graceful-timeout")
	port := viper.GetUint("http.port")

	var logRequests bool
	if viper.GetBool("logging.log-requests") {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logRequests = true
		} else {
			logging.Logger(nil).Warn("log-requests ignored when not in debug mode")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ah := handlers.NewAdminHandler(adminClient, discoverFunc(viper.GetString("http.ssdp-address")), viper.GetDuration("http.discover-timeout"))

	r := mux.NewRouter()
	r.Use(middlewares.NewLoggingMw(logRequests, "X-Correlation-ID"))
	r.Use(middlewares.NewRecoveryMw())
	ah.Register(r)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	var (
		controller *control.Controller
		invoker    *control.MethodPoller
		wg         sync.WaitGroup
	)

	if tvCfg := tvConfig(); tvCfg.Configured() {
		cfg := controllerConfig()
		tv := newTVClient()
		status := &handlers.StatusStore{}

		outputs := []control.Output{control.LogOutput{Name: cfg.Name}, status}

		var bridge *mqttbridge.Bridge
		if viper.GetString("mqtt.broker") != "" {
			bridge = mqttbridge.New(mqttConfig(cfg.Name))
			outputs = append(outputs, bridge)
		}

		controller = control.NewController(tv, control.MultiOutput(outputs...), cfg)
		invoker = control.NewMethodPoller(tv, control.LogOutput{Name: cfg.Name + "-invoke"}, control.MethodPollerConfig{
			Name: cfg.Name + "-invoke",
		})

		ch := handlers.NewControlHandler(controller, status, tv, invoker)
		ch.Register(r)

		if bridge != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := bridge.Run(logging.WithDevice(ctx, tvCfg.Host), controller); err != nil {
					logging.Logger(nil).WithError(err).Error("running MQTT bridge")
				}
			}()
		}

		controller.Start()
	} else {
		logging.Logger(nil).Info("no TV configured, serving admin endpoints only")
	}

	corsMw := middlewares.NewCorsMw(middlewares.CorsOptions(viper.GetStringSlice("http.cors-origins"), logRequests))

	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  viper.GetDuration("http.read-timeout"),
		WriteTimeout: viper.GetDuration("http.write-timeout"),
		IdleTimeout:  time.Second * 60,
		Handler:      corsMw(r),
	}

	logging.Logger(nil).Infof("Serving on port %d", port)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger(nil).WithError(err).Error("running server")
			stop()
		}
	}()

	// Block until we receive a signal
	<-ctx.Done()

	// Create a deadline to wait for.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	logging.Logger(nil).Info("shutting down")
	if err := s.Shutdown(shutdownCtx); err != nil {
		logging.Logger(nil).WithError(err).Errorf("shutting down")
	}

	if controller != nil {
		controller.Stop()
		invoker.Stop()
	}
	wg.Wait()

	logging.Logger(nil).Info("exiting")
	return nil
}
