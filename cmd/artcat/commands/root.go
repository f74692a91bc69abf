package commands

import (
	"fmt"

	"artcat/pkg/app"
	"artcat/pkg/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	verbose bool

	// 全局应用实例，供子命令使用
	AC *app.App
)

var rootCmd = &cobra.Command{
	Use:           "artcat",
	Short:         "artcat: service artifact cache and catalog",
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. 配置
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// 2. 日志
		logger, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		if cfg.File != "" {
			logger.Debug("using config file", zap.String("file", cfg.File))
		}

		// 3. 统一初始化 App
		AC, err = app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize artcat: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if AC == nil {
			return
		}
		_ = AC.Close()
		_ = AC.Logger.Sync()
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopmentConfig().Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.artcat/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging (debug level)")
}
