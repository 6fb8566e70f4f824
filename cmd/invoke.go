package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jake-scott/bravia-control/internal/pkg/control"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke service:version:method [params-json]",
	Short: "Call one TV API method and print its result",
	Example: `  bravia-control invoke system:1.0:getPowerStatus
  bravia-control invoke audio:1.0:setAudioVolume '{"target":"speaker","volume":"+2"}'`,

	Args:    cobra.RangeArgs(1, 2),
	PreRunE: requireTV,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doInvoke(args); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(invokeCmd)
}

func doInvoke(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var payload json.RawMessage
	if len(args) > 1 {
		payload = json.RawMessage(args[1])
	}

	poller := control.NewMethodPoller(newTVClient(), control.LogOutput{Name: "invoke"}, control.MethodPollerConfig{
		Name: "invoke",
	})
	defer poller.Stop()

	result, err := poller.Invoke(ctx, args[0], payload)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))

	return nil
}
