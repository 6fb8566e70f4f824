package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/bravia-control/internal/pkg/control"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
	"github.com/jake-scott/bravia-control/internal/pkg/mqttbridge"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Run the polling controller",
	Long: `Polls the TV and writes each state as a JSON line on stdout.  Commands
are read as JSON lines from stdin, eg. {"power":true,"input":"hdmi2"}, and
true or {} polls immediately.  With --mqtt-broker states are also published
and commands also accepted over MQTT.`,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		bindControllerFlags(cmd)
		errPanic(viper.GetViper().BindPFlag("control.method", cmd.Flags().Lookup("method")))
		errPanic(viper.GetViper().BindPFlag("control.method-payload", cmd.Flags().Lookup("method-payload")))
		errPanic(viper.GetViper().BindPFlag("control.stdin", cmd.Flags().Lookup("stdin")))

		return requireTV(cmd, args)
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doControl(); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	addControllerFlags(controlCmd)
	controlCmd.Flags().String("method", "", "also poll this API method, service:version:method")
	controlCmd.Flags().String("method-payload", "", "JSON parameter for --method")
	controlCmd.Flags().Bool("stdin", true, "read commands from stdin")

	rootCmd.AddCommand(controlCmd)
}

// jsonLinesOutput writes each emitted payload as one line of JSON.  With a
// key the payload is wrapped in an object under that key.
type jsonLinesOutput struct {
	mu  *sync.Mutex
	w   io.Writer
	key string
}

func (o jsonLinesOutput) Send(payload interface{}) {
	if o.key != "" {
		payload = map[string]interface{}{o.key: payload}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		logging.Logger(nil).WithError(err).Error("encoding output")
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = o.w.Write(append(b, '\n'))
}

func (o jsonLinesOutput) Status(s control.Status) {}

func (o jsonLinesOutput) Error(err error, cause interface{}) {}

func readCommands(ctx context.Context, r io.Reader, h mqttbridge.Handler) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := h.Handle(ctx, append([]byte(nil), line...)); err != nil {
			logging.Logger(ctx).WithError(err).Warn("command failed")
		}
		if ctx.Err() != nil {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		logging.Logger(ctx).WithError(err).Error("reading commands")
	}
}

func doControl() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := controllerConfig()
	tv := newTVClient()
	ctx = logging.WithDevice(ctx, tv.Config().Host)

	stdoutMu := &sync.Mutex{}
	outputs := []control.Output{
		control.LogOutput{Name: cfg.Name},
		jsonLinesOutput{mu: stdoutMu, w: os.Stdout},
	}

	var bridge *mqttbridge.Bridge
	if viper.GetString("mqtt.broker") != "" {
		bridge = mqttbridge.New(mqttConfig(cfg.Name))
		outputs = append(outputs, bridge)
	}

	controller := control.NewController(tv, control.MultiOutput(outputs...), cfg)

	var wg sync.WaitGroup
	if bridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(ctx, controller); err != nil {
				logging.Logger(ctx).WithError(err).Error("running MQTT bridge")
			}
		}()
	}

	var poller *control.MethodPoller
	if method := viper.GetString("control.method"); method != "" {
		if _, err := control.ParseMethodSpec(method); err != nil {
			return err
		}

		poller = control.NewMethodPoller(tv, control.MultiOutput(
			control.LogOutput{Name: cfg.Name + "-method"},
			jsonLinesOutput{mu: stdoutMu, w: os.Stdout, key: method},
		), control.MethodPollerConfig{
			Name:       cfg.Name + "-method",
			Method:     method,
			Payload:    json.RawMessage(viper.GetString("control.method-payload")),
			Polling:    cfg.Polling,
			Interval:   cfg.Interval,
			OutputMode: cfg.OutputMode,
		})
		poller.Start()
	}

	controller.Start()

	if viper.GetBool("control.stdin") {
		go readCommands(ctx, os.Stdin, controller)
	}

	<-ctx.Done()
	logging.Logger(nil).Info("shutting down")

	controller.Stop()
	if poller != nil {
		poller.Stop()
	}
	wg.Wait()

	logging.Logger(nil).Info("exiting")
	return nil
}
