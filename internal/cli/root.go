package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shaiso/automata-engine/internal/config"
)

// NewRootCmd создаёт корневую команду automata-engine.
//
// Флаги --log-level, --log-format, --store и --http-port привязаны к
// ключам viper и перекрывают файл конфигурации и переменные окружения.
func NewRootCmd(version string) *cobra.Command {
	var configPath string
	var jsonOutput bool

	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "automata-engine",
		Short:         "Multi-tenant process engine runtime",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to YAML config file")
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: json or text")
	flags.String("store", "", "Connector store: memory or postgres")
	flags.Int("http-port", 0, "Port for /healthz and /metrics")

	for key, flag := range map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
		"store":      "store",
		"http.port":  "http-port",
	} {
		v.BindPFlag(key, flags.Lookup(flag))
	}

	configFn := func() (*config.Config, error) { return config.LoadWithViper(v, configPath) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, rootCmd.OutOrStdout(), rootCmd.ErrOrStderr()) }

	rootCmd.AddCommand(
		NewServeCmd(configFn),
		NewRecoverCmd(configFn, outputFn),
		NewTenantCmd(configFn, outputFn),
		NewWorkCmd(configFn, outputFn),
		NewJobsCmd(outputFn),
	)

	return rootCmd
}
