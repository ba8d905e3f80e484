package cli

import (
	"context"

	"github.com/spf13/cobra"

	"PoE-Chain/sdk/go/poe"
)

var createCmd = &cobra.Command{
	Use:   "create [proof]",
	Short: "登记一个尚未被声明的证明",
	Args:  cobra.MaximumNArgs(1),
	RunE: proofCommand(func(ctx context.Context, c *poe.Client, proof []byte) (poe.Claim, error) {
		return c.CreateClaim(ctx, proof)
	}),
}

var revokeCmd = &cobra.Command{
	Use:   "revoke [proof]",
	Short: "撤销自己持有的声明",
	Args:  cobra.MaximumNArgs(1),
	RunE: proofCommand(func(ctx context.Context, c *poe.Client, proof []byte) (poe.Claim, error) {
		return c.RevokeClaim(ctx, proof)
	}),
}

var transferCmd = &cobra.Command{
	Use:   "transfer [proof]",
	Short: "将已存在的声明转移给自己",
	Args:  cobra.MaximumNArgs(1),
	RunE: proofCommand(func(ctx context.Context, c *poe.Client, proof []byte) (poe.Claim, error) {
		return c.TransferClaim(ctx, proof)
	}),
}

var showCmd = &cobra.Command{
	Use:   "show [proof]",
	Short: "查询证明当前的声明",
	Args:  cobra.MaximumNArgs(1),
	RunE: proofCommand(func(ctx context.Context, c *poe.Client, proof []byte) (poe.Claim, error) {
		return c.GetClaim(ctx, proof)
	}),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "分页列出声明",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newClient()
		if err != nil {
			return err
		}
		list, err := client.ListClaims(cmd.Context(), poe.ListOptions{Owner: owner, Limit: limit, Offset: offset})
		if err != nil {
			return err
		}
		return printClaimList(cmd, list)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "显示账本统计信息",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		stats, err := client.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printStats(cmd, stats)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{createCmd, revokeCmd, transferCmd, showCmd} {
		addProofFlags(cmd)
	}
	listCmd.Flags().String("owner", "", "只列出该所有者的声明")
	listCmd.Flags().Int("limit", 50, "每页数量")
	listCmd.Flags().Int("offset", 0, "跳过的数量")

	rootCmd.AddCommand(createCmd, revokeCmd, transferCmd, showCmd, listCmd, statsCmd)
}
