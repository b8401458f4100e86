package cmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/AnathPKI/anath-server-sub001/api"
	"github.com/AnathPKI/anath-server-sub001/config"
	"github.com/AnathPKI/anath-server-sub001/directory"
	"github.com/AnathPKI/anath-server-sub001/internal/util"
	"github.com/AnathPKI/anath-server-sub001/issuance"
	"github.com/AnathPKI/anath-server-sub001/keystore"
	"github.com/AnathPKI/anath-server-sub001/pki"
	"github.com/AnathPKI/anath-server-sub001/revocation"
	bboltstorage "github.com/AnathPKI/anath-server-sub001/storage/bbolt"
)

var (
	port      int
	dataDir   string
	tlsCert   string
	tlsKey    string
	usersFile string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the certificate service server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if err := cfg.Validate(); err != nil {
			return err
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
		ca, err := pki.OpenCA(ctx, keys)
		if err != nil {
			if errors.Is(err, pki.ErrCANotInitialized) {
				return fmt.Errorf("no CA found in %s; run 'anath init-ca' first", cfg.DataDir)
			}
			return fmt.Errorf("failed to open CA: %w", err)
		}

		validity := pki.FixedTermValidity{Days: cfg.CertValidityDays()}

		// The self-service engine binds certificates to the authenticated
		// principal; the admin engine only enforces the organization.
		selfChain := pki.NewConstraintChain(pki.OrganizationMatch{})
		if usersFile != "" {
			users, err := loadUsers(usersFile)
			if err != nil {
				return fmt.Errorf("failed to load users file: %w", err)
			}
			selfChain.Append(pki.PrincipalBinding{Directory: directory.NewStatic(users)})
		}
		selfEngine := pki.NewSigningEngine(ca,
			pki.WithConstraints(selfChain),
			pki.WithValidity(validity))
		adminEngine := pki.NewSigningEngine(ca,
			pki.WithValidity(validity))

		workflow := issuance.NewWorkflow(selfEngine, issuance.NewMemoryPendingStore(), store, cfg.TokenValidity)
		revoker := revocation.NewEngine(store)
		builder := revocation.NewBuilder(ctx, ca, store, store, cfg.CRLValidity)
		maintainer := revocation.NewMaintainer(builder, cfg.MaintenancePeriod,
			revocation.WithSweeper(workflow))

		maintCtx, stopMaintainer := context.WithCancel(ctx)
		defer stopMaintainer()
		go maintainer.Run(maintCtx)

		a := api.New(workflow, adminEngine, store, revoker, builder, ca, cfg.TokenValidity)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			cert, err := util.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			fmt.Println("Using self-signed runtime generated certificate for TLS")
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (data: %s)...\n", cfg.Port, cfg.DataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			stopMaintainer()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// loadUsers reads a JSON file mapping principal identifiers to directory
// entries.
func loadUsers(path string) (map[string]directory.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var users map[string]directory.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringVar(&usersFile, "users-file", "", "Path to a JSON user directory for principal binding")
}
