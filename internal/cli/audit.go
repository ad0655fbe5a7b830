package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/vigil/internal/audit"
)

var (
	auditFile   string
	auditSecret string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditVerifyCmd.Flags().StringVar(&auditFile, "file", "", "Path to the audit log (required)")
	auditVerifyCmd.Flags().StringVar(&auditSecret, "secret", "", "HMAC secret for signature verification")
	auditVerifyCmd.MarkFlagRequired("file")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity of an audit log",
	Long: "Walks the JSONL audit log and validates sequence numbers, the\n" +
		"prev_hash chain, and (with --secret) record signatures.\n" +
		"Exits 0 if valid, 1 if tampered.",
	RunE: runAuditVerify,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(auditFile, auditSecret)
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}
