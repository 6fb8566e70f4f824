package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

var methodsCmd = &cobra.Command{
	Use:   "methods [service...]",
	Short: "List the API methods and versions the TV supports",

	PreRunE: requireTV,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doMethods(args); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	methodsCmd.Flags().Bool("versions", false, "only list the API versions of each service")
	errPanic(viper.GetViper().BindPFlag("methods.versions", methodsCmd.Flags().Lookup("versions")))

	rootCmd.AddCommand(methodsCmd)
}

func doMethods(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	services := bravia.ServiceNames
	if len(args) > 0 {
		services = nil
		for _, a := range args {
			name, ok := bravia.ParseServiceName(a)
			if !ok {
				return fmt.Errorf("unknown service protocol %q", a)
			}
			services = append(services, name)
		}
	}

	tv := newTVClient()
	ctx = logging.WithDevice(ctx, viper.GetString("tv.host"))

	for _, name := range services {
		if viper.GetBool("methods.versions") {
			versions, err := tv.Service(name).Versions(ctx)
			if err != nil {
				logging.Logger(ctx).WithError(err).Warnf("getting versions of %s", name)
				continue
			}
			fmt.Printf("%s: %v\n", name, versions)
			continue
		}

		mvs, err := tv.Service(name).MethodTypes(ctx)
		if err != nil {
			logging.Logger(ctx).WithError(err).Warnf("getting methods of %s", name)
			continue
		}

		for _, mv := range mvs {
			for _, m := range mv.Methods {
				var desc []interface{}
				if err := json.Unmarshal(m, &desc); err != nil || len(desc) == 0 {
					continue
				}
				fmt.Printf("%s:%s:%v\n", name, mv.Version, desc[0])
			}
		}
	}

	return nil
}
