package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/identity"
	"github.com/jmerrifield20/WipeLedger/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	ledgerURL string
	cfgFile   string
	token     string
	format    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wipecert",
	Short: "WipeLedger erasure certificate CLI",
	Long: `wipecert submits data-erasure certificates to a WipeLedger service and
audits its certificate chain.

Settings are read from ~/.wipecert/config.yaml and WIPECERT_* environment
variables; flags take precedence.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.wipecert")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("wipecert")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if ledgerURL == "" {
			ledgerURL = viper.GetString("ledger_url")
		}
		if ledgerURL == "" {
			ledgerURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
		if token == "" {
			if path, err := client.DefaultTokenPath(); err == nil {
				token, _ = client.LoadToken(path)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.wipecert/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ledgerURL, "ledger", "", "WipeLedger base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "ingest bearer token (default ~/.wipecert/token)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(hashCmd, submitCmd, syncCmd, chainCmd, verifyChainCmd,
		verifyCodeCmd, issueCmd, statusCmd, tokenCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(ledgerURL, client.WithBearerToken(token))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── hash ─────────────────────────────────────────────────────────────────────

var hashCheck bool

var hashCmd = &cobra.Command{
	Use:   "hash <certificate.json>...",
	Short: "Compute the content hash the ledger expects for certificate files",
	Long: `hash prints the certificate_hash the ledger will recompute for each
certificate. With --check, it exits non-zero when a file's certificate_hash
does not match.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := readSubmissions(args)
		if err != nil {
			return err
		}
		mismatches := 0
		for _, sub := range subs {
			hash, err := contentHash(sub)
			if err != nil {
				return fmt.Errorf("%s: %w", sub.CertificateID, err)
			}
			status := ""
			if hashCheck {
				if strings.EqualFold(hash, sub.CertificateHash) {
					status = "  ok"
				} else {
					status = "  MISMATCH"
					mismatches++
				}
			}
			fmt.Printf("%s  %s%s\n", hash, sub.CertificateID, status)
		}
		if mismatches > 0 {
			return fmt.Errorf("%d certificate(s) do not match their certificate_hash", mismatches)
		}
		return nil
	},
}

func init() {
	hashCmd.Flags().BoolVar(&hashCheck, "check", false, "Compare against each file's certificate_hash")
}

// ── submit ───────────────────────────────────────────────────────────────────

var submitFillHash bool

var submitCmd = &cobra.Command{
	Use:   "submit <certificate.json>...",
	Short: "Upload certificates one at a time",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := readSubmissions(args)
		if err != nil {
			return err
		}
		if submitFillHash {
			if err := fillHashes(subs); err != nil {
				return err
			}
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx := context.Background()
		failed := 0
		for _, sub := range subs {
			res, err := c.Upload(ctx, sub)
			switch {
			case errors.Is(err, client.ErrConflict):
				fmt.Printf("skip    %s (already in ledger)\n", sub.CertificateID)
			case err != nil:
				failed++
				fmt.Fprintf(os.Stderr, "failed  %s: %v\n", sub.CertificateID, err)
			default:
				fmt.Printf("ok      %s  #%d  %s\n", res.CertificateID, res.ChainIndex, res.BlockchainHash)
				if res.WeakVerificationCode {
					fmt.Fprintf(os.Stderr, "warning: %s has no signature; its certificate_id is its verification code\n", res.CertificateID)
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d upload(s) failed", failed, len(subs))
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().BoolVar(&submitFillHash, "fill-hash", false, "Compute certificate_hash locally before uploading")
}

// ── sync ─────────────────────────────────────────────────────────────────────

var syncFillHash bool

var syncCmd = &cobra.Command{
	Use:   "sync <certificates.json>...",
	Short: "Upload a batch of certificates in one request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := readSubmissions(args)
		if err != nil {
			return err
		}
		if syncFillHash {
			if err := fillHashes(subs); err != nil {
				return err
			}
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		res, err := c.Sync(context.Background(), subs)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(res)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CERTIFICATE\tRESULT\tINDEX\tERROR")
		for _, item := range res.Results {
			if item.Uploaded {
				fmt.Fprintf(w, "%s\tuploaded\t%d\t\n", item.CertificateID, item.Receipt.ChainIndex)
			} else {
				fmt.Fprintf(w, "%s\tfailed\t\t%s\n", item.CertificateID, item.Error)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nuploaded %d, failed %d, total %d\n", res.Uploaded, res.Failed, res.Total)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFillHash, "fill-hash", false, "Compute certificate_hash locally before uploading")
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainOffset, chainLimit int

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "List the certificate chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		chain, err := c.Chain(context.Background(), chainOffset, chainLimit)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(chain)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tCERTIFICATE\tLINK\tCREATED\tVERIFIED")
		for _, e := range chain.Blockchain {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n",
				e.ChainIndex, e.CertificateID, short(e.ChainLink), e.CreatedAt.Format(time.RFC3339), e.IsVerified)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d certificate(s), chain valid: %t\n", chain.TotalCertificates, chain.ChainValid)
		if len(chain.Breaks) > 0 {
			fmt.Printf("breaks at: %v\n", chain.Breaks)
		}
		return nil
	},
}

func init() {
	chainCmd.Flags().IntVar(&chainOffset, "offset", 0, "First chain index to list")
	chainCmd.Flags().IntVar(&chainLimit, "limit", 0, "Maximum entries to list (0 = all)")
}

// ── verify-chain ─────────────────────────────────────────────────────────────

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain [certificate-id]",
	Short: "Verify the whole chain, or the link of a single certificate",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		if len(args) == 1 {
			link, err := c.VerifyLink(ctx, args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(link)
			}
			fmt.Printf("Certificate: %s\n", link.CertificateID)
			fmt.Printf("Index:       %d\n", link.ChainIndex)
			fmt.Printf("Link valid:  %t\n", link.ChainValid)
			if !link.ChainValid {
				return errors.New("certificate link is broken")
			}
			return nil
		}

		report, err := c.VerifyChain(ctx)
		if err != nil {
			return err
		}
		if format == "json" {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			fmt.Printf("Length: %d\n", report.Length)
			fmt.Printf("Root:   %s\n", report.Root)
			fmt.Printf("Valid:  %t\n", report.Valid)
			for _, b := range report.Breaks {
				fmt.Printf("  break at %d (%s): %s\n", b.Position, b.CertificateID, strings.Join(b.Reasons, "; "))
			}
		}
		if !report.Valid {
			return fmt.Errorf("chain has %d break(s)", len(report.Breaks))
		}
		return nil
	},
}

// ── verify-code ──────────────────────────────────────────────────────────────

var verifyCodeCmd = &cobra.Command{
	Use:   "verify-code <code>",
	Short: "Check a certificate holder's verification code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		cert, ok, err := c.VerifyCode(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("invalid verification code: certificate not found")
		}
		if format == "json" {
			return printJSON(cert)
		}
		fmt.Printf("Verified:    %s\n", cert.CertificateID)
		fmt.Printf("Method:      %s\n", cert.WipeMethod)
		fmt.Printf("Timestamp:   %s\n", cert.Timestamp)
		fmt.Printf("Index:       %d\n", cert.ChainIndex)
		fmt.Printf("Device:      %s\n", string(cert.DeviceInfo))
		return nil
	},
}

// ── issue ────────────────────────────────────────────────────────────────────

var (
	issueDevice string
	issueMethod string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a first-party certificate",
	Long: `issue asks the ledger to mint a certificate and prints its verification
code. The code is shown once; the ledger keeps only its digest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(issueDevice)) {
			return errors.New("--device must be a JSON object")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		out, err := c.Issue(context.Background(), json.RawMessage(issueDevice), issueMethod)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(out)
		}
		fmt.Printf("Certificate:       %s\n", out.Certificate.CertificateID)
		fmt.Printf("Index:             %d\n", out.Certificate.ChainIndex)
		fmt.Printf("Verification code: %s\n", out.VerificationCode)
		fmt.Println("\nStore the verification code now; it cannot be recovered.")
		return nil
	},
}

func init() {
	issueCmd.Flags().StringVar(&issueDevice, "device", "", `Device description as JSON, e.g. '{"model":"WD Black 4TB"}'`)
	issueCmd.Flags().StringVar(&issueMethod, "method", "", "Wipe method, e.g. \"NIST Clear\"")
	_ = issueCmd.MarkFlagRequired("device")
	_ = issueCmd.MarkFlagRequired("method")
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ledger's status summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.Status(context.Background())
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(st)
		}
		fmt.Printf("Status:       %s\n", st.Status)
		fmt.Printf("Certificates: %d\n", st.TotalCertificates)
		fmt.Printf("Root:         %s\n", st.ChainRoot)
		if len(st.RecentCertificates) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CERTIFICATE\tDEVICE\tMETHOD\tCREATED")
			for _, r := range st.RecentCertificates {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.CertificateID, r.DeviceModel, r.WipeMethod, r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		}
		return nil
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret  string
	tokenIssuer  string
	tokenStation string
	tokenTTL     time.Duration
	tokenSave    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token <station-id>",
	Short: "Mint an ingest bearer token for a wiping station",
	Long: `token signs an ingest token with the ledger's ingest.token_secret. Run it
where the secret is available (flag or WIPECERT_INGEST_SECRET), then hand
the token to the station. With --save it is written to ~/.wipecert/token.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("ingest_secret")
		}
		if secret == "" {
			return errors.New("--secret or WIPECERT_INGEST_SECRET is required")
		}
		ti, err := identity.NewTokenIssuer(secret, tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := ti.Issue(args[0], tokenStation)
		if err != nil {
			return err
		}

		if tokenSave {
			path, err := client.DefaultTokenPath()
			if err != nil {
				return err
			}
			if err := client.SaveToken(path, tok); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "token saved to %s (expires in %s)\n", path, ti.TTL())
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Ledger ingest.token_secret")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "Ledger ingest.token_issuer, if configured")
	tokenCmd.Flags().StringVar(&tokenStation, "station", "", "Human-readable station name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default 720h)")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "Also write the token to ~/.wipecert/token")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wipecert CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wipecert %s (WipeLedger)\n", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

// readSubmissions loads certificates from files holding a single object, an
// array, or {"certificates": [...]}.
func readSubmissions(paths []string) ([]client.Submission, error) {
	var out []client.Submission
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		subs, err := parseSubmissions(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, subs...)
	}
	return out, nil
}

func parseSubmissions(b []byte) ([]client.Submission, error) {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var subs []client.Submission
		if err := json.Unmarshal(b, &subs); err != nil {
			return nil, err
		}
		return subs, nil
	case strings.HasPrefix(trimmed, "{"):
		var wrapper struct {
			Certificates []client.Submission `json:"certificates"`
		}
		if err := json.Unmarshal(b, &wrapper); err != nil {
			return nil, err
		}
		if wrapper.Certificates != nil {
			return wrapper.Certificates, nil
		}
		var sub client.Submission
		if err := json.Unmarshal(b, &sub); err != nil {
			return nil, err
		}
		return []client.Submission{sub}, nil
	default:
		return nil, errors.New("expected a JSON object or array")
	}
}

func contentHash(sub client.Submission) (string, error) {
	return certledger.IngestedContentHash(sub.CertificateID, sub.DeviceInfo, sub.WipeMethod, sub.Timestamp)
}

func fillHashes(subs []client.Submission) error {
	for i := range subs {
		hash, err := contentHash(subs[i])
		if err != nil {
			return fmt.Errorf("%s: %w", subs[i].CertificateID, err)
		}
		subs[i].CertificateHash = hash
	}
	return nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
