package cmd

import (
	"fmt"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

var cfgFile string
var debug bool

var rootCmd = &cobra.Command{
	Use:   "bravia-control",
	Short: "Discover, query and control Sony BRAVIA TVs",
	Long: `bravia-control talks to Sony BRAVIA TVs over their REST API and the
IRCC remote control channel.  It can discover TVs on the local network,
call API methods, send remote control codes, and run a polling controller
that publishes TV state and accepts commands over stdin, HTTP or MQTT.`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			logrus.SetLevel(logrus.DebugLevel)
		}

		return logging.Configure(viper.GetViper())
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.  This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bravia-control.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.PersistentFlags().String("host", "", "TV host name or IP address")
	rootCmd.PersistentFlags().Int("port", bravia.DefaultPort, "TV API port")
	rootCmd.PersistentFlags().String("psk", "", "TV pre-shared key")
	rootCmd.PersistentFlags().Duration("timeout", bravia.DefaultTimeout, "TV request timeout, eg. 2s")
	rootCmd.PersistentFlags().Duration("ircc-delay", bravia.DefaultDelay, "pause after each remote control code, eg. 350ms")
	rootCmd.PersistentFlags().String("log-location", "stderr", "log to stdout, stderr or a file")
	rootCmd.PersistentFlags().String("log-format", "text", "log format, text or json")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")

	errPanic(viper.GetViper().BindPFlag("tv.host", rootCmd.PersistentFlags().Lookup("host")))
	errPanic(viper.GetViper().BindPFlag("tv.port", rootCmd.PersistentFlags().Lookup("port")))
	errPanic(viper.GetViper().BindPFlag("tv.psk", rootCmd.PersistentFlags().Lookup("psk")))
	errPanic(viper.GetViper().BindPFlag("tv.timeout", rootCmd.PersistentFlags().Lookup("timeout")))
	errPanic(viper.GetViper().BindPFlag("tv.ircc-delay", rootCmd.PersistentFlags().Lookup("ircc-delay")))
	errPanic(viper.GetViper().BindPFlag("logging.location", rootCmd.PersistentFlags().Lookup("log-location")))
	errPanic(viper.GetViper().BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format")))
	errPanic(viper.GetViper().BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level")))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".bravia-control")
	}

	viper.SetEnvPrefix("BRAVIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logging.Logger(nil).Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "reading config file %s: %s\n", cfgFile, err)
		os.Exit(1)
	}
}

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// tvConfig builds the TV settings from the tv.* keys
func tvConfig() bravia.Config {
	return bravia.Config{
		Host:    viper.GetString("tv.host"),
		Port:    viper.GetInt("tv.port"),
		PSK:     viper.GetString("tv.psk"),
		Timeout: viper.GetDuration("tv.timeout"),
	}
}

func newTVClient() *bravia.Client {
	return bravia.NewClient(tvConfig()).WithDelay(viper.GetDuration("tv.ircc-delay"))
}

func checkRequiredFlags(needFlags ...string) error {
	missingFlags := []string{}

	for _, f := range needFlags {
		if !viper.IsSet(f) || viper.GetString(f) == "" {
			missingFlags = append(missingFlags, f)
		}
	}

	if len(missingFlags) > 0 {
		itemPlural := "item"
		if len(missingFlags) > 1 {
			itemPlural = "items"
		}
		return fmt.Errorf("required config %s `%s` not set", itemPlural, strings.Join(missingFlags, "`, `"))
	}

	return nil
}

func requireTV(cmd *cobra.Command, args []string) error {
	return checkRequiredFlags("tv.host", "tv.psk")
}
