package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/transport"
)

var sshKeygenCmd = &cobra.Command{
	Use:   "ssh-keygen",
	Short: "Generate the SSH key pair used to reach VMs",
	Long: `Generate the ed25519 key pair vm uses to log into guests. Images must
carry the public key in the login user's authorized_keys.`,
	Args: cobra.NoArgs,
	RunE: runSSHKeygen,
}

func init() {
	sshKeygenCmd.Flags().BoolP("force", "f", false, "Overwrite an existing key pair")
	rootCmd.AddCommand(sshKeygenCmd)
}

func runSSHKeygen(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	keys := transport.NewKeyManager(a.cfg.SSHKeyPath)
	if keys.KeyPairExists() && !force {
		fmt.Fprintf(a.out, "Key already exists: %s\n", a.cfg.SSHKeyPath)
		fmt.Fprintln(a.out, "Use --force to overwrite.")
		return nil
	}

	priv, pub, err := keys.EnsureKeyPair(force)
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	content, err := keys.PublicKeyContent()
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "SSH key pair generated:")
	fmt.Fprintf(a.out, "  Private key: %s\n", priv)
	fmt.Fprintf(a.out, "  Public key:  %s\n", pub)
	fmt.Fprintln(a.out)
	fmt.Fprintf(a.out, "Add this line to ~%s/.ssh/authorized_keys in your images:\n", a.cfg.SSHUser)
	fmt.Fprintf(a.out, "  %s\n", strings.TrimSpace(content))
	return nil
}
