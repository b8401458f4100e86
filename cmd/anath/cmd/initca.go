package cmd

import (
	"crypto/x509/pkix"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AnathPKI/anath-server-sub001/config"
	"github.com/AnathPKI/anath-server-sub001/keystore"
	"github.com/AnathPKI/anath-server-sub001/pki"
	bboltstorage "github.com/AnathPKI/anath-server-sub001/storage/bbolt"
)

var (
	initDataDir    string
	initCommonName string
	initOrg        string
	initYears      int
	importCertFile string
	importKeyFile  string
)

var initCACmd = &cobra.Command{
	Use:   "init-ca",
	Short: "Create or import the certificate authority",
	Long: `Creates a fresh self-signed CA, or imports an existing one when
--import-cert and --import-key are given. The private key is encrypted
under the deployment secret before it is stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		if cfg.DeploymentSecret == "" {
			return config.ErrDeploymentSecretMissing
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = initDataDir
		}

		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		store, err := bboltstorage.NewStoreFromFile(cfg.DataDir+"/anath.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open certificate storage: %w", err)
		}
		defer store.Close()

		keys, err := keystore.New(store, cfg.DeploymentSecret)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		var ca *pki.CertificateAuthority
		if importCertFile != "" || importKeyFile != "" {
			if importCertFile == "" || importKeyFile == "" {
				return fmt.Errorf("--import-cert and --import-key must be given together")
			}
			certPEM, err := os.ReadFile(importCertFile)
			if err != nil {
				return fmt.Errorf("failed to read CA certificate: %w", err)
			}
			keyPEM, err := os.ReadFile(importKeyFile)
			if err != nil {
				return fmt.Errorf("failed to read CA key: %w", err)
			}
			ca, err = pki.ImportCA(ctx, keys, certPEM, keyPEM)
			if err != nil {
				return fmt.Errorf("failed to import CA: %w", err)
			}
		} else {
			if initCommonName == "" || initOrg == "" {
				return fmt.Errorf("--cn and --org are required when not importing")
			}
			subject := pkix.Name{
				CommonName:   initCommonName,
				Organization: []string{initOrg},
			}
			ca, err = pki.InitCA(ctx, keys, subject, initYears)
			if err != nil {
				return fmt.Errorf("failed to initialize CA: %w", err)
			}
		}

		fmt.Printf("CA ready: %s\n", pki.SubjectString(ca.Certificate().Subject))
		fmt.Print(string(ca.CertificatePEM()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCACmd)
	initCACmd.Flags().StringVar(&initDataDir, "data-dir", "./data", "Directory for persistent data")
	initCACmd.Flags().StringVar(&initCommonName, "cn", "", "Common name of the new CA")
	initCACmd.Flags().StringVar(&initOrg, "org", "", "Organization of the new CA")
	initCACmd.Flags().IntVar(&initYears, "years", 10, "Validity of the new CA in years")
	initCACmd.Flags().StringVar(&importCertFile, "import-cert", "", "Path to an existing PEM CA certificate to import")
	initCACmd.Flags().StringVar(&importKeyFile, "import-key", "", "Path to the matching PEM EC private key")
}
