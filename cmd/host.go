package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"panel-backup/internal/application"
	"panel-backup/internal/display"
	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/models"
)

var (
	hostName          string
	hostURL           string
	hostUsername      string
	hostPasswordStdin bool
	hostAssumeYes     bool
	hostForce         bool
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage registered panels",
	Long: `Add, list, edit and remove the panels that panel-backup backs up.

Hosts are addressed by the index shown in host list. Every add or edit runs a
live connection test that logs in and looks for the database export path. A
host is only saved when the test succeeds.`,
}

var hostAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a panel",
	Example: `  panel-backup host add --name Frankfurt --url https://fra.example.com:2053 --username admin
  echo "$PANEL_PASSWORD" | panel-backup host add --name Paris --url http://10.0.0.1:2053 --username admin --password-stdin`,
	Args: cobra.NoArgs,
	RunE: runHostAdd,
}

var hostListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered panels",
	Args:    cobra.NoArgs,
	RunE:    runHostList,
}

var hostEditCmd = &cobra.Command{
	Use:   "edit <index>",
	Short: "Change a registered panel",
	Long: `Change the name, URL, username or password of a panel. Flags that are not
given keep their current value. The connection test runs again before saving;
when it fails nothing is changed unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runHostEdit,
}

var hostRemoveCmd = &cobra.Command{
	Use:     "remove <index>",
	Aliases: []string{"rm"},
	Short:   "Remove a registered panel",
	Args:    cobra.ExactArgs(1),
	RunE:    runHostRemove,
}

var hostRescanCmd = &cobra.Command{
	Use:   "rescan <index>",
	Short: "Rediscover the database export path of a panel",
	Long: `Log in and probe every known export path in order, ignoring the remembered one.
The remembered path is only replaced when a new one is confirmed.`,
	Args: cobra.ExactArgs(1),
	RunE: runHostRescan,
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.AddCommand(hostAddCmd, hostListCmd, hostEditCmd, hostRemoveCmd, hostRescanCmd)

	for _, c := range []*cobra.Command{hostAddCmd, hostEditCmd} {
		c.Flags().StringVar(&hostName, "name", "", "display name of the panel")
		c.Flags().StringVar(&hostURL, "url", "", "panel base URL including port and web base path")
		c.Flags().StringVar(&hostUsername, "username", "", "panel login")
		c.Flags().BoolVar(&hostPasswordStdin, "password-stdin", false, "read the password from standard input")
	}
	hostEditCmd.Flags().BoolVar(&hostForce, "force", false, "save the changes even when the connection test fails")
	hostRemoveCmd.Flags().BoolVarP(&hostAssumeYes, "yes", "y", false, "do not ask for confirmation")
}

func newPrompter(out *display.Service) *display.Prompter {
	return display.NewPrompter(os.Stdin, os.Stderr, out.Colors())
}

// readPassword reads the password from stdin or prompts without echo
func readPassword(prompter *display.Prompter, required bool) (string, error) {
	if !hostPasswordStdin && !prompter.Interactive() && !required {
		return "", nil
	}
	label := "Password: "
	if !required {
		label = "Password (empty keeps the current one): "
	}
	password, err := prompter.Secret(label)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

func runHostAdd(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	prompter := newPrompter(out)
	if hostName == "" {
		if hostName, err = prompter.Line("Name: "); err != nil {
			return err
		}
	}
	if hostURL == "" {
		if hostURL, err = prompter.Line("URL: "); err != nil {
			return err
		}
	}
	if hostUsername == "" {
		if hostUsername, err = prompter.Line("Username: "); err != nil {
			return err
		}
	}
	password, err := readPassword(prompter, true)
	if err != nil {
		return err
	}

	record, err := models.NewHostRecord(hostName, hostURL, hostUsername, password)
	if err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	out.Info("Testing connection...")
	result, err := app.AddHost(cmd.Context(), record)
	if err != nil {
		return err
	}
	if err := reportProbe(out, result); err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Added %s as host %d", result.Host.Name, result.Index+1))
	return nil
}

// reportProbe prints the connection test result and returns the failure when nothing was saved
func reportProbe(out *display.Service, result *application.ProbeResult) error {
	if result.Err == nil {
		out.Success(fmt.Sprintf("Connection OK, database found at %s", result.Host.DiscoveredPath))
		return nil
	}
	out.Error(fmt.Sprintf("Failed! %s", apperrors.FormatUserError(result.Err)))
	if result.Saved {
		out.Warning("Saved anyway; the previous database path is kept")
		return nil
	}
	return apperrors.WrapError(result.Err, "connection test failed; nothing was saved")
}

func runHostList(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	f, err := format(out)
	if err != nil {
		return err
	}
	hosts, err := app.Registry.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(hosts) == 0 && f == display.FormatTable {
		out.Info("No hosts registered yet; add one with panel-backup host add")
		return nil
	}
	return out.PrintHosts(f, hosts)
}

func runHostEdit(cmd *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}

	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	current, err := app.Registry.Get(cmd.Context(), index)
	if err != nil {
		return err
	}

	name, url, username := current.Name, current.BaseURL, current.Username
	if cmd.Flags().Changed("name") {
		name = hostName
	}
	if cmd.Flags().Changed("url") {
		url = hostURL
	}
	if cmd.Flags().Changed("username") {
		username = hostUsername
	}

	password, err := readPassword(newPrompter(out), hostPasswordStdin)
	if err != nil {
		return err
	}
	if password == "" {
		password = current.Password
	}

	record, err := models.NewHostRecord(name, url, username, password)
	if err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	out.Info("Testing connection...")
	result, err := app.EditHost(cmd.Context(), index, record, hostForce)
	if err != nil {
		return err
	}
	if err := reportProbe(out, result); err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Updated host %d", index+1))
	return nil
}

func runHostRemove(cmd *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}

	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	host, err := app.Registry.Get(cmd.Context(), index)
	if err != nil {
		return err
	}

	if !hostAssumeYes {
		ok, err := newPrompter(out).Confirm(fmt.Sprintf("Remove %s (%s)?", host.Name, host.BaseURL))
		if err != nil {
			return err
		}
		if !ok {
			out.Info("Nothing removed")
			return nil
		}
	}

	removed, err := app.Registry.Remove(cmd.Context(), index)
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Removed %s (%s)", removed.Name, removed.BaseURL))
	return nil
}

func runHostRescan(cmd *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}

	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	out.Info("Scanning export paths...")
	found, err := app.RescanHost(cmd.Context(), index)
	if err != nil {
		return err
	}

	var skipped []string
	for _, attempt := range found.Attempts {
		if !attempt.Accepted() {
			skipped = append(skipped, fmt.Sprintf("%s (%s)", attempt.Path, attempt.Reason()))
		}
	}
	if len(skipped) > 0 {
		out.Info("Skipped: " + strings.Join(skipped, ", "))
	}
	out.Success(fmt.Sprintf("Database found at %s", found.Path))
	return nil
}
