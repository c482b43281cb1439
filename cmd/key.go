package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"panel-backup/internal/vault"
)

var keyAssumeYes bool

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the credential encryption key",
}

var keyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the key if it does not exist",
	Args:  cobra.NoArgs,
	RunE:  runKeyInit,
}

var keyRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt stored passwords under a fresh key",
	Long: `Generate a new key, re-encrypt every stored password with it and replace the
key file. Passwords that cannot be read with the current key are left untouched
and listed. Archived backups stay encrypted with the previous key.`,
	Args: cobra.NoArgs,
	RunE: runKeyRotate,
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyInitCmd, keyRotateCmd)
	keyRotateCmd.Flags().BoolVarP(&keyAssumeYes, "yes", "y", false, "do not ask for confirmation")
}

func runKeyInit(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	switch {
	case app.KeyCreated:
		out.Success("Key created")
	case app.Config.Key.Source == vault.KeySourceFile:
		out.Info(fmt.Sprintf("Key already present at %s", app.Config.Key.Path))
	default:
		out.Info(fmt.Sprintf("Key is read from the %s source", app.Config.Key.Source))
	}
	out.Info(fmt.Sprintf("Passwords are encrypted with %s", app.Cipher.Algorithm()))
	return nil
}

func runKeyRotate(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if !keyAssumeYes {
		ok, err := newPrompter(out).Confirm("Rotate the credential key?")
		if err != nil {
			return err
		}
		if !ok {
			out.Info("Key unchanged")
			return nil
		}
	}

	rekeyed, skipped, err := app.RotateKey(cmd.Context())
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		out.Warning("Unreadable passwords left as they were: " + strings.Join(skipped, ", "))
	}
	out.Success(fmt.Sprintf("Key rotated, %d passwords re-encrypted", rekeyed))
	return nil
}
