package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/bravia-control/internal/pkg/control"
	"github.com/jake-scott/bravia-control/internal/pkg/mqttbridge"
)

// Polling and MQTT flags are shared by the control and server commands, so
// they are bound to viper only once the command that owns them runs.
func addControllerFlags(cmd *cobra.Command) {
	def := control.DefaultConfig()

	cmd.Flags().String("name", def.Name, "controller name, used in logs, metrics and MQTT topics")
	cmd.Flags().Bool("poll", true, "poll the TV on a timer")
	cmd.Flags().Bool("poll-volume", true, "track volume and mute")
	cmd.Flags().Bool("poll-input", true, "track the selected input")
	cmd.Flags().Int("interval", def.Interval.Value, "poll interval, 0 for no timer")
	cmd.Flags().String("interval-unit", def.Interval.Unit, "poll interval unit: seconds, minutes or hours")
	cmd.Flags().String("output", string(def.OutputMode), "emit states on every poll (always) or on change (change)")
	cmd.Flags().Bool("poll-after-command", def.PollAfterCommand, "poll once a command completes")
	cmd.Flags().Duration("power-on-delay", def.PowerOnDelay, "wait after powering on before the next step")
	cmd.Flags().Duration("settle-delay", def.SettleDelay, "wait after a command before polling")

	cmd.Flags().String("mqtt-broker", "", "MQTT broker URL, eg. mqtt://localhost:1883; empty disables MQTT")
	cmd.Flags().String("mqtt-client-id", "", "MQTT client ID")
	cmd.Flags().String("mqtt-username", "", "MQTT user name")
	cmd.Flags().String("mqtt-password", "", "MQTT password")
	cmd.Flags().String("mqtt-prefix", mqttbridge.DefaultPrefix, "MQTT topic prefix")
	cmd.Flags().Uint8("mqtt-qos", 1, "MQTT QoS for publish and subscribe")
}

func bindControllerFlags(cmd *cobra.Command) {
	for key, flag := range map[string]string{
		"polling.name":           "name",
		"polling.enabled":        "poll",
		"polling.volume":         "poll-volume",
		"polling.input":          "poll-input",
		"polling.interval":       "interval",
		"polling.unit":           "interval-unit",
		"polling.output":         "output",
		"polling.after-command":  "poll-after-command",
		"polling.power-on-delay": "power-on-delay",
		"polling.settle-delay":   "settle-delay",
		"mqtt.broker":            "mqtt-broker",
		"mqtt.client-id":         "mqtt-client-id",
		"mqtt.username":          "mqtt-username",
		"mqtt.password":          "mqtt-password",
		"mqtt.prefix":            "mqtt-prefix",
		"mqtt.qos":               "mqtt-qos",
	} {
		errPanic(viper.GetViper().BindPFlag(key, cmd.Flags().Lookup(flag)))
	}
}

func controllerConfig() control.Config {
	cfg := control.DefaultConfig()

	cfg.Name = viper.GetString("polling.name")
	cfg.Polling = viper.GetBool("polling.enabled")
	cfg.PollVolume = viper.GetBool("polling.volume")
	cfg.PollInput = viper.GetBool("polling.input")
	cfg.Interval = control.Interval{
		Value: viper.GetInt("polling.interval"),
		Unit:  viper.GetString("polling.unit"),
	}
	cfg.OutputMode = control.ParseOutputMode(viper.GetString("polling.output"))
	cfg.PollAfterCommand = viper.GetBool("polling.after-command")
	cfg.PowerOnDelay = viper.GetDuration("polling.power-on-delay")
	cfg.SettleDelay = viper.GetDuration("polling.settle-delay")

	return cfg
}

func mqttConfig(name string) mqttbridge.Config {
	return mqttbridge.Config{
		Broker:   viper.GetString("mqtt.broker"),
		ClientID: viper.GetString("mqtt.client-id"),
		Username: viper.GetString("mqtt.username"),
		Password: viper.GetString("mqtt.password"),
		Prefix:   viper.GetString("mqtt.prefix"),
		Name:     name,
		QoS:      byte(viper.GetUint("mqtt.qos")),
	}
}
