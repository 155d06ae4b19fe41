package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"enginehost/internal/engine"
	"enginehost/internal/ipc"
)

const cliControllerID = "enginehost-cli"

func newForegroundCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "foreground on|off",
		Short:     "Acquire or release the worker's execution grant",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				// The daemon refuses promotion without a bound controller, so the
				// CLI binds for the duration of the request.
				bind, err := client.Bind(cliControllerID, 5*time.Second)
				if err != nil {
					return fmt.Errorf("bind worker: %w", err)
				}
				defer client.Unbind(bind.BindingID) //nolint:errcheck

				resp, err := client.SetForeground(bind.WorkerKey, active)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case resp.Gone:
					fmt.Fprintln(out, "Worker was reclaimed before the request arrived; nothing changed")
				case resp.Denied:
					return fmt.Errorf("host denied the request: %s", resp.Error)
				case active:
					fmt.Fprintf(out, "Worker %s in foreground (notification #%d %q)\n", bind.WorkerKey, resp.Descriptor.ID, resp.Descriptor.Title)
				default:
					fmt.Fprintf(out, "Worker %s released to background\n", bind.WorkerKey)
				}
				return nil
			})
		},
	}
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}

func newIntentCommand(ctx *commandContext) *cobra.Command {
	var uri string
	var extras []string
	cmd := &cobra.Command{
		Use:   "intent <action>",
		Short: "Deliver a start command to the worker, starting it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := buildIntent(args[0], uri, extras)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start(intent)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %s accepted %q\n", resp.WorkerKey, intent.Action)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&uri, "uri", "", "Intent URI")
	cmd.Flags().StringArrayVarP(&extras, "extra", "e", nil, "Intent extra as key=value (repeatable)")
	return cmd
}

func buildIntent(action, uri string, extras []string) (engine.Intent, error) {
	intent := engine.Intent{Action: strings.TrimSpace(action), URI: strings.TrimSpace(uri)}
	for _, kv := range extras {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return engine.Intent{}, fmt.Errorf("extra %q must be key=value", kv)
		}
		if intent.Extras == nil {
			intent.Extras = make(map[string]string)
		}
		intent.Extras[key] = value
	}
	return intent, nil
}

func newReclaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Kill the worker as the host would under memory pressure",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reclaim()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				result := resp.Result
				fmt.Fprintf(out, "Reclaimed worker %s (%d binding(s) severed)\n", result.Reclaimed, result.Severed)
				if result.Restarted != "" {
					fmt.Fprintf(out, "Sticky restart: worker %s\n", result.Restarted)
				}
				return nil
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lifecycle journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("limit must be positive")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Entries)
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(out, "Journal is empty")
					return nil
				}
				rows := make([][]string, 0, len(resp.Entries))
				for _, e := range resp.Entries {
					rows = append(rows, []string{
						strconv.FormatInt(e.ID, 10),
						e.At.Local().Format("2006-01-02 15:04:05"),
						stateLabel(string(e.Kind)),
						e.WorkerKey,
						e.Detail,
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Time", "Event", "Worker", "Detail"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit entries as JSON")
	return cmd
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				switch {
				case resp.Message != "":
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				case resp.Sent:
					fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				default:
					fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
				}
				return nil
			})
		},
	}
}
