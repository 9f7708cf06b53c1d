package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var (
	baseURL string
	timeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kvledger-cli",
		Short: "kvledger CLI tool",
		Long:  `A command line interface for interacting with the kvledger API.`,
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the kvledger API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		pushCmd(),
		deleteCmd(),
		balanceCmd(),
		entriesCmd(),
		historyCmd(),
		verifyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func pushCmd() *cobra.Command {
	var (
		entryID    string
		minBalance string
	)

	cmd := &cobra.Command{
		Use:   "push <account_id> <balance>=<amount> [<balance>=<amount>...]",
		Short: "Append an entry to an account",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}

			if entryID == "" {
				entryID = ulid.Make().String()
			}

			entry := map[string]any{
				"account_id":    args[0],
				"entry_id":      entryID,
				"ledger_fields": fields,
			}

			if minBalance != "" {
				name, value, err := parseField(minBalance)
				if err != nil {
					return fmt.Errorf("invalid --min-balance: %w", err)
				}
				entry["conditionals"] = []map[string]any{
					{"greater_than_or_equal_to": map[string]any{"balance": "balance_" + name, "value": value}},
				}
			}

			return doRequest(http.MethodPost, "/api/v1/balance", []any{entry})
		},
	}

	cmd.Flags().StringVar(&entryID, "entry-id", "", "Entry ID (generated when omitted)")
	cmd.Flags().StringVar(&minBalance, "min-balance", "", "Require <field>=<value> to hold after applying, e.g. usd_amount=0")

	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <account_id> <entry_id>",
		Short: "Revert a previously applied entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := []any{map[string]string{"account_id": args[0], "entry_id": args[1]}}
			return doRequest(http.MethodDelete, "/api/v1/balance", body)
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account_id>",
		Short: "Show the current balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRequest(http.MethodGet, "/api/v1/balance/"+args[0], nil)
		},
	}
}

func entriesCmd() *cobra.Command {
	var (
		start  string
		end    string
		order  string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "entries <account_id>",
		Short: "List entries for an account within a date window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if start != "" {
				q.Set("start_date", start)
			}
			if end != "" {
				q.Set("end_date", end)
			}
			if order != "" {
				q.Set("order", order)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			path := "/api/v1/balance/" + args[0] + "/entry"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return doRequest(http.MethodGet, path, nil)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (RFC3339)")
	cmd.Flags().StringVar(&order, "order", "", "Traversal order: asc or desc")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Resume token from a previous page")

	return cmd
}

func historyCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "history <account_id> <entry_id>",
		Short: "Show the revision history of an entry, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			path := "/api/v1/balance/" + args[0] + "/entry/" + args[1]
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return doRequest(http.MethodGet, path, nil)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Resume token from a previous page")

	return cmd
}

func verifyCmd() *cobra.Command {
	var (
		start string
		end   string
	)

	cmd := &cobra.Command{
		Use:   "verify <account_id>",
		Short: "Recompute balances from entries and compare with the stored row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("start_date", start)
			q.Set("end_date", end)
			return doRequest(http.MethodGet, "/api/v1/balance/"+args[0]+"/verify?"+q.Encode(), nil)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (RFC3339)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

// parseFields turns name=amount pairs into a ledger_fields map.
func parseFields(pairs []string) (map[string]int64, error) {
	fields := make(map[string]int64, len(pairs))
	for _, pair := range pairs {
		name, value, err := parseField(pair)
		if err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, nil
}

func parseField(pair string) (string, int64, error) {
	name, raw, ok := strings.Cut(pair, "=")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("expected <name>=<amount>, got %q", pair)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("amount for %q must be an integer: %w", name, err)
	}
	return name, value, nil
}

func doRequest(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	printJSON(parsed)
	return nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(out))
}
