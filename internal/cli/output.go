package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"PoE-Chain/sdk/go/poe"
)

var (
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
	heading = color.New(color.FgCyan, color.Bold)
)

func encodeProof(proof []byte) string {
	return hexutil.Encode(proof)
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func printClaim(cmd *cobra.Command, claim poe.Claim) error {
	if viper.GetBool("json") {
		return writeJSON(cmd, claim)
	}
	w := cmd.OutOrStdout()
	if claim.Event != nil {
		success.Fprintf(w, "✓ %s (height %d)\n", claim.Event.Kind, claim.Event.Height)
	}
	fmt.Fprintf(w, "proof:         %s\n", claim.Proof)
	if claim.Owner != "" {
		fmt.Fprintf(w, "owner:         %s\n", claim.Owner)
		fmt.Fprintf(w, "registered_at: %d\n", claim.RegisteredAt)
	}
	if claim.Event != nil {
		fmt.Fprintf(w, "event:         %s\n", claim.Event.ID)
	}
	return nil
}

func printClaimList(cmd *cobra.Command, list poe.ClaimList) error {
	if viper.GetBool("json") {
		return writeJSON(cmd, list)
	}
	w := cmd.OutOrStdout()
	if len(list.Claims) == 0 {
		warning.Fprintln(w, "没有声明")
		return nil
	}
	heading.Fprintf(w, "%d 条声明 (offset %d)\n", len(list.Claims), list.Offset)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HEIGHT\tOWNER\tPROOF")
	for _, claim := range list.Claims {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", claim.RegisteredAt, claim.Owner, claim.Proof)
	}
	return tw.Flush()
}

func printStats(cmd *cobra.Command, stats poe.Stats) error {
	if viper.GetBool("json") {
		return writeJSON(cmd, stats)
	}
	w := cmd.OutOrStdout()
	heading.Fprintln(w, "账本统计")
	fmt.Fprintf(w, "  claims:        %d\n", stats.Claims.Total)
	fmt.Fprintf(w, "  owners:        %d\n", stats.Claims.Owners)
	fmt.Fprintf(w, "  latest_height: %d\n", stats.Claims.LatestHeight)
	return nil
}

func printTransaction(cmd *cobra.Command, tx poe.Transaction) error {
	if viper.GetBool("json") {
		return writeJSON(cmd, tx)
	}
	w := cmd.OutOrStdout()
	statusColor(tx.Status).Fprintf(w, "%s %s\n", tx.Status, tx.ID)
	fmt.Fprintf(w, "  call:     %s\n", tx.Call)
	fmt.Fprintf(w, "  caller:   %s\n", tx.Caller)
	fmt.Fprintf(w, "  proof:    %s\n", tx.Proof)
	fmt.Fprintf(w, "  attempts: %d/%d\n", tx.Attempts, tx.MaxRetries)
	if tx.Height > 0 {
		fmt.Fprintf(w, "  height:   %d\n", tx.Height)
	}
	if tx.EventID != "" {
		fmt.Fprintf(w, "  event:    %s\n", tx.EventID)
	}
	if tx.ErrorCode != "" {
		fmt.Fprintf(w, "  error:    %s %s\n", tx.ErrorCode, tx.Error)
	}
	if tx.UpdatedAt > 0 {
		fmt.Fprintf(w, "  updated:  %s\n", time.Unix(tx.UpdatedAt, 0).Format(time.RFC3339))
	}
	return nil
}

func statusColor(status string) *color.Color {
	switch status {
	case "applied":
		return success
	case "rejected", "failed":
		return failure
	default:
		return warning
	}
}

// PrintError 以红色输出命令错误。
func PrintError(w io.Writer, err error) {
	failure.Fprintf(w, "✗ %v\n", err)
}
