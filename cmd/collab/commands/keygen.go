package commands

import (
	"collab-lab/domain"
	"collab-lab/keys"
	"fmt"

	"github.com/spf13/cobra"
)

// keygen: print a fresh session key, or the fingerprint of a passphrase
// derived one so participants can compare out of band.
func keygenCmd() *cobra.Command {
	var (
		session    string
		passphrase string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a session key to share with the other participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := keys.NewKeyStore()
			sessionID := domain.SessionID(session)
			if passphrase != "" {
				if session == "" {
					return fmt.Errorf("--session required with --passphrase")
				}
				if err := store.DeriveKey(sessionID, passphrase); err != nil {
					return err
				}
				fingerprint, err := store.Fingerprint(sessionID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", fingerprint)
				return nil
			}

			key, err := keys.GenerateKey()
			if err != nil {
				return err
			}
			if err = store.ImportKey(sessionID, key); err != nil {
				return err
			}
			fingerprint, err := store.Fingerprint(sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key: %s\nFingerprint: %s\n", key, fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id (needed with --passphrase)")
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "derive the key from a shared passphrase")
	return cmd
}
