package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find TVs on the local network",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doDiscover(); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	discoverCmd.Flags().Duration("wait", bravia.DefaultDiscoverTimeout, "how long to collect replies, eg. 3s")
	discoverCmd.Flags().String("ssdp-address", bravia.SSDPAddress, "address to send the search to")
	discoverCmd.Flags().Bool("json", false, "print devices as JSON")

	errPanic(viper.GetViper().BindPFlag("discover.wait", discoverCmd.Flags().Lookup("wait")))
	errPanic(viper.GetViper().BindPFlag("discover.address", discoverCmd.Flags().Lookup("ssdp-address")))
	errPanic(viper.GetViper().BindPFlag("discover.json", discoverCmd.Flags().Lookup("json")))

	rootCmd.AddCommand(discoverCmd)
}

func discoverFunc(address string) func(timeout time.Duration) []bravia.Device {
	d := bravia.NewDiscoverer().WithAddress(address)

	return func(timeout time.Duration) []bravia.Device {
		return d.Discover(context.Background(), timeout)
	}
}

func doDiscover() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	wait := viper.GetDuration("discover.wait")
	logging.Logger(nil).Infof("searching for TVs for %s", wait)

	devices := bravia.NewDiscoverer().
		WithAddress(viper.GetString("discover.address")).
		Discover(ctx, wait)

	if viper.GetBool("discover.json") {
		b, err := json.MarshalIndent(devices, "", "    ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	if len(devices) == 0 {
		fmt.Println("no TVs found")
		return nil
	}

	for _, d := range devices {
		fmt.Printf("%-20s %5d  %s (%s)\n", d.Host, d.Port, d.FriendlyName, d.ModelName)
	}

	return nil
}
