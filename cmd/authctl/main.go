package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/jmerrifield20/authority/internal/identity"
	"github.com/jmerrifield20/authority/internal/password"
	"github.com/jmerrifield20/authority/pkg/client"
	"github.com/jmerrifield20/authority/pkg/oidc"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	insecure  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Authority token service CLI",
	Long: `authctl manages an authority token service deployment.

It generates signing keys, hashes passwords for seeding, and exercises
the login, register and JWKS endpoints of a running service.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.authctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("AUTHCTL")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8082"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.authctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "authority base URL (default http://localhost:8082)")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")

	rootCmd.AddCommand(keygenCmd, hashCmd, jwksCmd, loginCmd, registerCmd, statusCmd, verifyCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if key := viper.GetString("internal_api_key"); key != "" {
		opts = append(opts, client.WithInternalAPIKey(key))
	}
	return client.New(serverURL, opts...)
}

// readPassword reads a password without echo from a terminal, or one line
// from stdin when it is piped.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var (
	keygenPrivate string
	keygenPublic  string
	keygenBits    int
	keygenForce   bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA signing key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !keygenForce {
			for _, p := range []string{keygenPrivate, keygenPublic} {
				if _, err := os.Stat(p); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", p)
				}
			}
		}
		key, err := identity.GenerateKeyFiles(keygenPrivate, keygenPublic, keygenBits)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Generated %d-bit RSA key pair\n\n", key.N.BitLen())
		fmt.Printf("  Private: %s\n", keygenPrivate)
		fmt.Printf("  Public:  %s\n", keygenPublic)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenPrivate, "private", "keys/private_key.pem", "Private key output path")
	keygenCmd.Flags().StringVar(&keygenPublic, "public", "keys/public_key.pem", "Public key output path")
	keygenCmd.Flags().IntVar(&keygenBits, "bits", 2048, "RSA modulus size")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite existing key files")
}

// ── hash ─────────────────────────────────────────────────────────────────────

var hashCost int

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash a password with bcrypt for seeding the users table",
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		h, err := password.NewHasher(hashCost, 1)
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer h.Close(ctx) //nolint:errcheck

		hash, err := h.Hash(ctx, pw)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	hashCmd.Flags().IntVar(&hashCost, "cost", 12, "bcrypt cost factor")
}

// ── jwks ─────────────────────────────────────────────────────────────────────

var (
	jwksPublicKey string
	jwksKeyID     string
)

var jwksCmd = &cobra.Command{
	Use:   "jwks",
	Short: "Print the JWKS of a local public key or a running service",
	Long: `With --public-key the JWKS is built from a local PEM file, exactly as
the service would publish it. Otherwise it is fetched from --url.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jwksPublicKey != "" {
			pub, err := identity.LoadPublicKey(cmd.Context(), identity.FileSource{}, jwksPublicKey)
			if err != nil {
				return err
			}
			return printJSON(oidc.PublishJWKS(pub, jwksKeyID))
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		set, err := c.JWKS(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(set)
	},
}

func init() {
	jwksCmd.Flags().StringVar(&jwksPublicKey, "public-key", "", "Local public key PEM file")
	jwksCmd.Flags().StringVar(&jwksKeyID, "kid", "product-service-key-1", "Key id for a local public key")
}

// ── login ────────────────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and print the access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		tok, err := c.Login(cmd.Context(), args[0], pw)
		if errors.Is(err, client.ErrUnauthorized) {
			return errors.New("invalid credentials")
		}
		if err != nil {
			return err
		}
		fmt.Println(tok.AccessToken)
		fmt.Fprintf(os.Stderr, "expires %s\n", tok.Expiry.Format(time.RFC3339))
		return nil
	},
}

// ── register ─────────────────────────────────────────────────────────────────

var registerEmail string

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create a user (requires internal_api_key in config or AUTHCTL_INTERNAL_API_KEY)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword("New password: ")
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		reg, err := c.Register(cmd.Context(), args[0], registerEmail, pw)
		if err != nil {
			return fmt.Errorf("register %q: %w", args[0], err)
		}
		fmt.Printf("✓ %s\n\n", reg.Message)
		fmt.Printf("  ID:       %d\n", reg.UserID)
		fmt.Printf("  Username: %s\n", reg.Username)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "User email address")
	_ = registerCmd.MarkFlagRequired("email")
}

// ── status ───────────────────────────────────────────────────────────────────

var statusToken string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the status endpoint, optionally with a token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.Status(cmd.Context(), statusToken)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Authenticated:\t%t\n", st.Authenticated)
		fmt.Fprintf(w, "Message:\t%s\n", st.Message)
		if st.Authenticated {
			fmt.Fprintf(w, "Subject:\t%s\n", st.Subject)
			fmt.Fprintf(w, "Role:\t%s\n", st.Role)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusToken, "token", "", "Access token to present")
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a token offline against the service JWKS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		claims, err := c.VerifyToken(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Token is valid\n\n")
		fmt.Printf("  Subject: %s\n", claims.Subject)
		fmt.Printf("  Role:    %s\n", claims.Role)
		fmt.Printf("  Issued:  %s\n", claims.IssuedAt.Time.Format(time.RFC3339))
		fmt.Printf("  Expires: %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the authctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("authctl", version)
	},
}
