package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/callsec/pkg/realtime"
	"go.uber.org/zap"
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish <category> <json>",
	Short: "Publish an event through a development server",
	Long: `Publish an event to every authenticated client of a development server.

The first argument is the category (call, message, appointment, system).
The second argument is the event payload as JSON.

--to limits delivery to clients whose token subject matches an
MQTT-style pattern, e.g. "clinic-a/#" or "+/reception".

Examples:
  callsec publish --api http://localhost:8080 --token "$TOKEN" call '{"action":"new","call":{"call_id":"c1","caller_name":"Ada"}}'
  callsec publish --api http://localhost:8080 -u admin -p secret --to 'clinic-a/#' system '{"type":"system","message":"Closing early"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runPublish,
}

var (
	publishTo      string
	publishTimeout time.Duration
	publishCreds   credentialFlags
)

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().StringVar(&publishTo, "to", "", "subject pattern of the recipients")
	publishCmd.Flags().DurationVar(&publishTimeout, "timeout", 30*time.Second, "total operation timeout")
	publishCreds.register(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	publishCreds.merge(cmd, cfg.Client)

	category, err := realtime.ParseCategory(args[0])
	if err != nil {
		return err
	}
	if !json.Valid([]byte(args[1])) {
		return errors.New("payload is not valid JSON")
	}
	if publishCreds.apiBase == "" {
		return errors.New("the server URL is required, use --api")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	tokens, _, err := publishCreds.provider(logger)
	if err != nil {
		return err
	}
	if tokens == nil {
		return errors.New("credentials are required, use --token, --token-file or --username")
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain token: %w", err)
	}

	delivered, err := postEvent(ctx, publishCreds.apiBase, token, category, publishTo, []byte(args[1]))
	if err != nil {
		return err
	}

	logger.Info("Event published",
		zap.String("category", string(category)),
		zap.String("to", publishTo),
		zap.Int("delivered", delivered),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "delivered to %d client(s)\n", delivered)
	return nil
}

func postEvent(ctx context.Context, apiBase, token string, category realtime.Category, to string, payload []byte) (int, error) {
	endpoint := strings.TrimRight(apiBase, "/") + "/events/" + url.PathEscape(string(category))
	if to != "" {
		endpoint += "?" + url.Values{"to": {to}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("publish request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
			return 0, fmt.Errorf("publish rejected (%d): %s", resp.StatusCode, detail.Detail)
		}
		return 0, fmt.Errorf("publish rejected: %s", resp.Status)
	}

	var result struct {
		Delivered int `json:"delivered"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("invalid response: %w", err)
	}
	return result.Delivered, nil
}
