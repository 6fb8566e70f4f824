package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

var irccCmd = &cobra.Command{
	Use:   "ircc",
	Short: "Send remote control codes",
}

var irccSendCmd = &cobra.Command{
	Use:   "send code[,code...] [code...]",
	Short: "Send remote control codes by name or token, in order",
	Example: `  bravia-control ircc send Home,Down,Confirm
  bravia-control ircc send VolumeUp AAAAAQAAAAEAAAASAw==`,

	Args:    cobra.MinimumNArgs(1),
	PreRunE: requireTV,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doIRCCSend(args); err != nil {
			return err
		}

		return nil
	},
}

var irccCodesCmd = &cobra.Command{
	Use:   "codes",
	Short: "List the remote control codes the TV knows",

	PreRunE: requireTV,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doIRCCCodes(); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	irccCodesCmd.Flags().Bool("json", false, "print codes as JSON")
	errPanic(viper.GetViper().BindPFlag("ircc.json", irccCodesCmd.Flags().Lookup("json")))

	irccCmd.AddCommand(irccSendCmd)
	irccCmd.AddCommand(irccCodesCmd)
	rootCmd.AddCommand(irccCmd)
}

func splitCodes(args []string) []string {
	codes := []string{}
	for _, a := range args {
		for _, c := range strings.Split(a, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codes = append(codes, c)
			}
		}
	}
	return codes
}

func doIRCCSend(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	codes := splitCodes(args)
	ctx = logging.WithDevice(ctx, viper.GetString("tv.host"))
	logging.Logger(ctx).Debugf("sending %d codes", len(codes))

	return newTVClient().Send(ctx, codes...)
}

func doIRCCCodes() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	codes, err := newTVClient().RemoteCodes(logging.WithDevice(ctx, viper.GetString("tv.host")))
	if err != nil {
		return err
	}

	if viper.GetBool("ircc.json") {
		b, err := json.MarshalIndent(codes, "", "    ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	for _, c := range codes {
		fmt.Printf("%-24s %s\n", c.Name, c.Value)
	}

	return nil
}
