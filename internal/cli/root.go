package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd 是 poectl 的根命令。
var rootCmd = &cobra.Command{
	Use:   "poectl",
	Short: "poectl - 存在性证明账本命令行客户端",
	Long: `poectl 通过 HTTP API 与 poed 交互：登记、撤销、转移证明声明，
查询声明与统计信息，以及提交异步交易。

证明可以直接以 0x 前缀的十六进制给出，也可以通过 --file 指定文件，
此时使用文件内容的 keccak-256 摘要作为证明。`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("no_color") {
			color.NoColor = true
		}
	},
}

// Execute 运行根命令，ctx 取消时正在进行的请求随之中止。
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "poectl v0.1.0")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "配置文件 (默认 $HOME/.poectl/config.yaml)")
	flags.String("server", "http://127.0.0.1:8080", "poed 服务地址")
	flags.String("key", "", "私钥文件路径，或 0x 前缀的十六进制私钥")
	flags.String("identity", "", "header 认证模式下使用的身份")
	flags.Duration("timeout", 15*time.Second, "单次请求超时")
	flags.Bool("json", false, "以 JSON 输出结果")
	flags.Bool("no-color", false, "禁用彩色输出")

	_ = viper.BindPFlag("server", flags.Lookup("server"))
	_ = viper.BindPFlag("key", flags.Lookup("key"))
	_ = viper.BindPFlag("identity", flags.Lookup("identity"))
	_ = viper.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("no_color", flags.Lookup("no-color"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig 读取配置文件与 POECTL_* 环境变量。
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".poectl"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("POECTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "读取配置文件失败: %v\n", err)
	}
}
