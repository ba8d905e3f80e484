package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "生成用于签名认证的 secp256k1 私钥",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		force, _ := cmd.Flags().GetBool("force")
		if out == "" {
			return fmt.Errorf("需要 --out 指定私钥文件")
		}
		if _, err := os.Stat(out); err == nil && !force {
			return fmt.Errorf("%s 已存在，使用 --force 覆盖", out)
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
			return err
		}

		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		if err := crypto.SaveECDSA(out, key); err != nil {
			return err
		}
		address := crypto.PubkeyToAddress(key.PublicKey).Hex()
		if viper.GetBool("json") {
			return writeJSON(cmd, map[string]string{"address": address, "key_file": out})
		}
		success.Fprintf(cmd.OutOrStdout(), "✓ 已生成私钥 %s\n", out)
		fmt.Fprintf(cmd.OutOrStdout(), "  address: %s\n", address)
		return nil
	},
}

func init() {
	keygenCmd.Flags().String("out", "", "私钥文件路径")
	keygenCmd.Flags().Bool("force", false, "覆盖已存在的文件")
	rootCmd.AddCommand(keygenCmd)
}
