package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"PoE-Chain/sdk/go/poe"
)

var submitCmd = &cobra.Command{
	Use:   "submit <call> [proof]",
	Short: "提交异步交易，call 为 create_claim、revoke_claim 或 transfer_claim",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		id, _ := cmd.Flags().GetString("id")
		wait, _ := cmd.Flags().GetDuration("wait")

		proof, err := resolveProof(args[1:], file)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		tx, err := client.SubmitTransaction(cmd.Context(), poe.Submission{
			ID:    id,
			Call:  args[0],
			Proof: encodeProof(proof),
		})
		if err != nil {
			return err
		}
		if wait > 0 {
			tx, err = waitTransaction(cmd.Context(), client, tx.ID, wait)
			if err != nil {
				return err
			}
		}
		return printTransaction(cmd, tx)
	},
}

var txCmd = &cobra.Command{
	Use:   "tx <id>",
	Short: "查询交易状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		client, err := newClient()
		if err != nil {
			return err
		}
		var tx poe.Transaction
		if wait > 0 {
			tx, err = waitTransaction(cmd.Context(), client, args[0], wait)
		} else {
			tx, err = client.GetTransaction(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		return printTransaction(cmd, tx)
	},
}

func waitTransaction(ctx context.Context, client *poe.Client, id string, wait time.Duration) (poe.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return client.WaitTransaction(ctx, id, 200*time.Millisecond)
}

func init() {
	addProofFlags(submitCmd)
	submitCmd.Flags().String("id", "", "交易 ID，用于幂等重试")
	submitCmd.Flags().Duration("wait", 0, "等待交易进入终态的最长时间")
	txCmd.Flags().Duration("wait", 0, "等待交易进入终态的最长时间")

	rootCmd.AddCommand(submitCmd, txCmd)
}
