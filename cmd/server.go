package cmd

import (
	"SyncFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动SyncFM服务器",
	Long:  `启动SyncFM同步听歌服务器，提供房间同步、歌单管理与曲库API`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
