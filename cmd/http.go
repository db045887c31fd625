package cmd

import (
	"github.com/spf13/cobra"

	"github.com/chainsentry/reactor/config"
	"github.com/chainsentry/reactor/log"
	"github.com/chainsentry/reactor/server"
)

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "run the query and approval http server",
	Run: func(cmd *cobra.Command, args []string) {
		configFile, _ := cmd.Flags().GetString("config")
		config.SetupConfig(configFile)
		log.InitLog(config.Conf.Executor.LogPath)

		engine, _ := buildEngine()
		srv := server.NewHTTPServer(engine)
		srv.Run()
	},
}

func init() {
	httpCmd.Flags().String("config", "", "set config file path")
	httpCmd.Flags().StringVarP(&config.CfgPath, "config-dir", "d", "", "set config directory")
	httpCmd.Flags().StringVarP(&config.Env, "env", "e", "dev", "server environment type, available: dev, prod")
}
