package main

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/atinyakov/memberauth/internal/certgen"
)

// NewCertgenCmd creates the certgen subcommand.
func NewCertgenCmd() *cobra.Command {
	var (
		hosts    []string
		certPath string
		keyPath  string
		validFor time.Duration
	)

	cmd := &cobra.Command{
		Use:   "certgen",
		Short: "Generate a self-signed TLS certificate for development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			certPEM, keyPEM, err := certgen.GenerateSelfSigned(hosts, validFor)
			if err != nil {
				return oops.Code("CERT_GENERATE_FAILED").Wrap(err)
			}
			if err := certgen.WriteFiles(certPath, keyPath, certPEM, keyPEM); err != nil {
				return oops.Code("CERT_WRITE_FAILED").Wrap(err)
			}
			cmd.Printf("Certificate written to %s, key to %s\n", certPath, keyPath)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&hosts, "hosts", []string{"localhost", "127.0.0.1"}, "DNS names or IPs the certificate is valid for")
	cmd.Flags().StringVar(&certPath, "out-cert", "certs/server.crt", "certificate output path")
	cmd.Flags().StringVar(&keyPath, "out-key", "certs/server.key", "private key output path")
	cmd.Flags().DurationVar(&validFor, "valid-for", 365*24*time.Hour, "certificate validity")

	return cmd
}
