package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tripwise/relay/internal/config"
)

var (
	Version   string
	BuildTime string
	cfgFile   string
)

var rootCmd = &cobra.Command{
	Use:   "tripwise",
	Short: "Travel planning relay for a hosted chat-completion deployment",
	Long: `Tripwise relays travel planning requests to a hosted chat-completion
deployment and returns either the model's reply or a structured itinerary.`,
	RunE: runServe, // 默认启动服务器
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局标志
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment is read")

	// 服务器标志（root 与 serve 共用）
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "server host")
	rootCmd.PersistentFlags().Int("port", 3000, "server port")
	rootCmd.PersistentFlags().String("mode", "release", "server mode (debug/release/test)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug/info/warn/error)")

	// 绑定到viper
	viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("server.mode", rootCmd.PersistentFlags().Lookup("mode"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// .env 不存在时忽略
	envFile, _ := rootCmd.PersistentFlags().GetString("env-file")
	if err := godotenv.Load(envFile); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment from", envFile)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./data")
		viper.AddConfigPath("$HOME/.tripwise")
	}

	config.BindEnv(viper.GetViper())

	// 配置文件是可选的，环境变量足以启动
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Failed to read config file:", err)
	}
}
