// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keyctl",
		Short: "Biometric Key Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("KEYCTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
		SilenceUsage: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set KEYCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(supportCmd())
	rootCmd.AddCommand(enrollCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(waitCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(sensorCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "keyctl version %s\n", version)
		},
	}
}

// supportCmd はサポート状況の確認コマンド。
func supportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "support",
		Short: "Show whether biometric key protection is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, "/v1/support", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			var result struct {
				Status string `json:"status"`
				State  string `json:"state"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Support: %s (gate: %s)\n", result.Status, result.State)
			return nil
		},
	}
}

// enrollCmd はペイロードを暗号化する認証要求の提出コマンド。
func enrollCmd() *cobra.Command {
	var keyName, payload string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Encrypt a payload with a biometric-protected key",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]interface{}{}
			if cmd.Flags().Changed("payload") {
				req["payload"] = payload
			}
			path := fmt.Sprintf("/v1/keys/%s/enroll", url.PathEscape(keyName))
			return submit(cmd, path, req, wait)
		},
	}
	cmd.Flags().StringVar(&keyName, "key", "", "Key name (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "Payload to encrypt (defaults to the application identity)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the outcome")
	cmd.MarkFlagRequired("key")
	return cmd
}

// verifyCmd は暗号文を復号して照合する認証要求の提出コマンド。
func verifyCmd() *cobra.Command {
	var keyName, ciphertext, iv, expected string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Decrypt a stored ciphertext with a biometric-protected key",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]interface{}{
				"ciphertext": ciphertext,
				"iv":         iv,
			}
			if cmd.Flags().Changed("expected") {
				req["expected"] = expected
			}
			path := fmt.Sprintf("/v1/keys/%s/verify", url.PathEscape(keyName))
			return submit(cmd, path, req, wait)
		},
	}
	cmd.Flags().StringVar(&keyName, "key", "", "Key name (required)")
	cmd.Flags().StringVar(&ciphertext, "ciphertext", "", "Ciphertext in URL-safe base64 (required)")
	cmd.Flags().StringVar(&iv, "iv", "", "IV in URL-safe base64 (required)")
	cmd.Flags().StringVar(&expected, "expected", "", "Expected plaintext (defaults to the application identity)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the outcome")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("ciphertext")
	cmd.MarkFlagRequired("iv")
	return cmd
}

// waitCmd は認証要求の結果を待つコマンド。
func waitCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "wait <request-id>",
		Short: "Wait for the outcome of an authentication request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printAuthentication(cmd, args[0], wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "Wait up to this long for the outcome")
	return cmd
}

// cancelCmd は進行中の認証要求のキャンセルコマンド。
func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the authentication in progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := call(http.MethodDelete, "/v1/authentications/current", nil, http.StatusAccepted); err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
			}
			return nil
		},
	}
}

// submit は認証要求を提出し、wait が指定されていれば結果まで表示する。
func submit(cmd *cobra.Command, path string, req interface{}, wait time.Duration) error {
	body, err := call(http.MethodPost, path, req, http.StatusAccepted)
	if err != nil {
		return err
	}
	var result struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if wait > 0 {
		return printAuthentication(cmd, result.RequestID, wait)
	}
	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Submitted request %s, touch the sensor to continue\n", result.RequestID)
	}
	return nil
}

// printAuthentication は認証要求の状態を表示する。
func printAuthentication(cmd *cobra.Command, requestID string, wait time.Duration) error {
	path := fmt.Sprintf("/v1/authentications/%s?wait=%s", url.PathEscape(requestID), wait)
	body, err := call(http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return err
	}
	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}

	var result struct {
		RequestID string `json:"request_id"`
		KeyName   string `json:"key_name"`
		Purpose   string `json:"purpose"`
		State     string `json:"state"`
		Done      bool   `json:"done"`
		Outcomes  []struct {
			Kind          string `json:"kind"`
			ResultPayload string `json:"result_payload"`
			IV            string `json:"iv"`
			Message       string `json:"message"`
		} `json:"outcomes"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Request %s (%s %q): %s\n", result.RequestID, result.Purpose, result.KeyName, result.State)
	for _, o := range result.Outcomes {
		switch {
		case o.Kind == "succeeded" && o.IV != "":
			fmt.Fprintf(w, "  succeeded\n  ciphertext: %s\n  iv:         %s\n", o.ResultPayload, o.IV)
		case o.Kind == "succeeded":
			fmt.Fprintf(w, "  succeeded\n  payload: %s\n", o.ResultPayload)
		default:
			fmt.Fprintf(w, "  %s: %s\n", o.Kind, o.Message)
		}
	}
	if !result.Done {
		fmt.Fprintln(w, "  (still waiting for the sensor)")
	}
	return nil
}

// call はAPIを呼び出し、期待したステータス以外ならエラーを返す。
func call(method, path string, reqBody interface{}, wantStatus int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set KEYCTL_API_URL)")
	}

	var reader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s (%s)", errResp.Message, errResp.Code)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
