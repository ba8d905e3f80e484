package cli

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"PoE-Chain/sdk/go/poe"
)

// newClient 根据全局参数构造 SDK 客户端。
func newClient() (*poe.Client, error) {
	var opts []poe.Option
	if raw := strings.TrimSpace(viper.GetString("key")); raw != "" {
		key, err := loadKey(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, poe.WithKey(key))
	}
	if identity := strings.TrimSpace(viper.GetString("identity")); identity != "" {
		opts = append(opts, poe.WithIdentity(identity))
	}
	httpClient := &http.Client{Timeout: viper.GetDuration("timeout")}
	return poe.NewClient(viper.GetString("server"), httpClient, opts...)
}

// loadKey 接受私钥文件路径或 0x 前缀的十六进制私钥。
func loadKey(raw string) (*ecdsa.PrivateKey, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		key, err := crypto.HexToECDSA(raw[2:])
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		return key, nil
	}
	key, err := crypto.LoadECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("读取私钥文件 %s 失败: %w", raw, err)
	}
	return key, nil
}

// resolveProof 从位置参数或 --file 得到证明字节。
func resolveProof(args []string, file string) ([]byte, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, fmt.Errorf("不能同时指定证明参数与 --file")
	case file != "":
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("读取文件失败: %w", err)
		}
		return crypto.Keccak256(content), nil
	case len(args) == 1:
		proof, err := hexutil.Decode(strings.TrimSpace(args[0]))
		if err != nil {
			return nil, fmt.Errorf("证明必须是 0x 前缀的十六进制: %w", err)
		}
		return proof, nil
	default:
		return nil, fmt.Errorf("需要一个证明参数或 --file")
	}
}

func addProofFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "使用文件内容的 keccak-256 摘要作为证明")
}

// proofCommand 生成读取证明并调用 SDK 的命令处理函数。
func proofCommand(call func(context.Context, *poe.Client, []byte) (poe.Claim, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		proof, err := resolveProof(args, file)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		claim, err := call(cmd.Context(), client, proof)
		if err != nil {
			return err
		}
		return printClaim(cmd, claim)
	}
}
