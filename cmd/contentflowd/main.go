package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "contentflowd",
	Short: "ContentFlow request orchestration daemon",
	Long: `contentflowd turns natural-language requests into tool calls against the
content backend. Simple requests run in a single tool-use loop; compound
requests are planned, executed as a dependency graph and validated.

Running without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"配置文件路径 (默认读取 $CONTENTFLOW_CONFIG 或 configs/contentflow.yaml)")
}

// main 是 ContentFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("contentflowd 运行失败: %v", err)
	}
}
