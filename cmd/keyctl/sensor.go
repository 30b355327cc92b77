package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// sensorCmd はシミュレートされた指紋センサーの操作コマンド。
func sensorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensor",
		Short: "Drive the simulated fingerprint sensor",
	}
	cmd.AddCommand(sensorListCmd())
	cmd.AddCommand(sensorEnrollCmd())
	cmd.AddCommand(sensorRemoveCmd())
	cmd.AddCommand(sensorTouchCmd())
	return cmd
}

func sensorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrolled fingerprint templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, "/v1/sensor/templates", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			var result struct {
				Templates []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"templates"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, tpl := range result.Templates {
				fmt.Fprintf(w, "%s\t%s\n", tpl.ID, tpl.Name)
			}
			return w.Flush()
		},
	}
}

func sensorEnrollCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a fingerprint template (invalidates existing keys)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodPost, "/v1/sensor/templates", map[string]string{"name": name}, http.StatusCreated)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			var result struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled template %q (id: %s)\n", name, result.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Template name (required)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func sensorRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <template-id>",
		Short: "Remove a fingerprint template (invalidates existing keys)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/sensor/templates/" + url.PathEscape(args[0])
			if _, err := call(http.MethodDelete, path, nil, http.StatusNoContent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed template %s\n", args[0])
			return nil
		},
	}
}

func sensorTouchCmd() *cobra.Command {
	var templateID, action, message string
	cmd := &cobra.Command{
		Use:   "touch",
		Short: "Send a sensor signal to the authentication in progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"action":      action,
				"template_id": templateID,
				"message":     message,
			}
			if _, err := call(http.MethodPost, "/v1/sensor/touch", req, http.StatusAccepted); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", action)
			return nil
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "Template ID to present (unknown IDs do not match)")
	cmd.Flags().StringVar(&action, "action", "touch", "Signal to send: touch, help, fail")
	cmd.Flags().StringVar(&message, "message", "", "Message for help or fail signals")
	return cmd
}
