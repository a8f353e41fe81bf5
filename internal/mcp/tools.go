package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all stringstore tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerState(s, client)
	registerHealth(s, client)
	registerConnect(s, client)
	registerDisconnect(s, client)
	registerRead(s, client)
	registerWrite(s, client)
	registerHistory(s, client)
	registerAttempt(s, client)
}

func registerState(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stringstore_state",
		gomcp.WithDescription("Get the current stringstore state: connected account, last read message, pending transaction, last error."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/state")
		if err != nil {
			return unreachable(err), nil
		}
		return gomcp.NewToolResultText(formatState("Stringstore State", raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stringstore_health",
		gomcp.WithDescription("Readiness check for the stringstore service. Checks RPC connectivity and that the contract is deployed."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stringstore unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerConnect(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stringstore_connect",
		gomcp.WithDescription("Connect the wallet and adopt its first address as the session account."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Post(ctx, "/v1/connect", nil)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Connect failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatState("Wallet Connect", raw)), nil
	})
}

func registerDisconnect(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stringstore_disconnect",
		gomcp.WithDescription("Forget the session account. The last read message is kept."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Post(ctx, "/v1/disconnect", nil)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Disconnect failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatState("Wallet Disconnect", raw)), nil
	})
}

func registerRead(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stringstore_read",
		gomcp.WithDescription("Read the message currently stored in the contract. Does not require a connected wallet."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Post(ctx, "/v1/read", nil)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Read failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatState("Read Message", raw)), nil
	})
}

func registerWrite(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stringstore_write",
		gomcp.WithDescription("Store a new message in the contract. This is a MUTATING operation that sends a signed transaction and waits for it to be mined. Requires a connected wallet."),
		gomcp.WithString("value",
			gomcp.Required(),
			gomcp.Description("Message to store. Blank values are ignored."),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		value, err := req.RequireString("value")
		if err != nil {
			return gomcp.NewToolResultError("value is required"), nil
		}
		raw, err := client.Post(ctx, "/v1/write", map[string]string{"value": value})
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Write failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatState("Write Message", raw)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stringstore_history",
		gomcp.WithDescription("List recent write attempts, newest first, with their outcome and transaction hash."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max attempts to return (default 10, max 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Number of attempts to skip"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/history?limit=%d&offset=%d", limit, offset)
		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	})
}

func registerAttempt(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stringstore_attempt",
		gomcp.WithDescription("Get a single write attempt by ID."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Write attempt ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get(ctx, "/v1/history/"+id)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get attempt: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatAttempt(raw)), nil
	})
}

func unreachable(err error) *gomcp.CallToolResult {
	return gomcp.NewToolResultError(fmt.Sprintf("Stringstore unreachable: %v\n\nIs the service running? Try: make run", err))
}

// Response formatting functions

func formatState(title string, raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing state: %v", err)
	}

	account := getStr(m, "account")
	if account == "" {
		account = "(not connected)"
	}
	value := "(not read)"
	if hasValue, _ := m["hasValue"].(bool); hasValue {
		value = fmt.Sprintf("%q", getStr(m, "value"))
	}
	busy, _ := m["busy"].(bool)
	var accountURL string
	if u := getStr(m, "accountUrl"); u != "" {
		accountURL = kv("Account Explorer", u)
	}

	lines := joinLines(
		section(title),
		kv("Network", fmt.Sprintf("%s (%s)", getStr(m, "network"), formatNumber(getNum(m, "chainId")))),
		kv("Contract", getStr(m, "contract")),
		kv("Account", account),
		accountURL,
		kv("Message", value),
		kv("Busy", fmt.Sprintf("%v (%s)", busy, getStr(m, "phase"))),
	)

	if tx := getStr(m, "txHash"); tx != "" {
		lines += "\n\n" + joinLines(
			section("Transaction"),
			kv("Hash", tx),
			kv("Explorer", getStr(m, "txUrl")),
		)
	}

	kind := getStr(m, "errorKind")
	if kind != "" {
		lines += "\n\n" + joinLines(
			section("Last Error"),
			kv("Kind", kind),
			kv("Message", getStr(m, "error")),
			kv("Cause", getStr(m, "cause")),
		)
		if kind == "reverted" {
			lines += "\n" + "The transaction was mined but reverted; see the explorer link."
		}
	}

	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Stringstore Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				name := getStr(check, "name")
				status := getStr(check, "status")
				latencyMs := getNum(check, "latency_ms")
				errMsg := getStr(check, "error")
				line := fmt.Sprintf("  %-15s %s (%dms)", name, status, int64(latencyMs))
				if errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatHistory(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	lines := joinLines(
		section("Write History"),
		kv("Total Attempts", formatNumber(getNum(m, "total"))),
	)

	attempts, _ := m["attempts"].([]any)
	if len(attempts) == 0 {
		return lines + "\n\nNo write attempts recorded."
	}

	lines += "\n"
	for _, a := range attempts {
		attempt, ok := a.(map[string]any)
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %s  %-18s %q", getStr(attempt, "id"), getStr(attempt, "outcome"), getStr(attempt, "value"))
		if tx := getStr(attempt, "txHash"); tx != "" {
			line += "  tx=" + tx
		}
		lines += "\n" + line
	}

	return lines
}

func formatAttempt(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing attempt: %v", err)
	}

	lines := joinLines(
		section("Write Attempt"),
		kv("ID", getStr(m, "id")),
		kv("Outcome", getStr(m, "outcome")),
		kv("Value", fmt.Sprintf("%q", getStr(m, "value"))),
		kv("From", getStr(m, "from")),
		kv("Started", getStr(m, "startedAt")),
	)

	if tx := getStr(m, "txHash"); tx != "" {
		lines += "\n" + kv("TX Hash", tx)
	}
	if block := getNum(m, "blockNumber"); block > 0 {
		lines += "\n" + kv("Block", formatNumber(block))
		lines += "\n" + kv("Gas Used", formatNumber(getNum(m, "gasUsed")))
	}
	if d := getNum(m, "durationMs"); d > 0 {
		lines += "\n" + kv("Duration", formatMs(d))
	}
	if e := getStr(m, "error"); e != "" {
		lines += "\n" + kv("Error", e)
	}

	return lines
}

func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}
