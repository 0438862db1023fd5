// Command tripcrew runs the trip planning chatbot.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"goa.design/clue/log"
)

var rootCmd = &cobra.Command{
	Use:   "tripcrew",
	Short: "Conversational trip planner",
	Long: `tripcrew collects trip details through a short conversation and
researches weather, prices and activities to produce a travel plan.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./tripcrew.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logs")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tripcrew")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/tripcrew")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TRIPCREW")
	// TRIPCREW_MODEL_API_KEY sets model.api_key.
	viper.SetEnvKeyReplacer(newEnvReplacer())

	_ = viper.ReadInConfig()
}

// logContext returns the root context carrying the clue logger.
func logContext(debug bool) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}
