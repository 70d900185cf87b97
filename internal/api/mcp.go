package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/atelislab/atelis/internal/history"
	"github.com/atelislab/atelis/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *history.Store
	Sessions *session.Orchestrator
}

// NewMCPServer exposes the tutoring dialogue over MCP so an agent running
// next to the classroom (or a researcher's assistant) can inspect and
// continue student conversations.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"atelis",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("atelis — AI critique and guided reflection for student design work."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_students",
			mcp.WithDescription("List the IDs of all students with a stored session."),
		),
		mcpListStudents(deps),
	)

	s.AddTool(
		mcp.NewTool("get_dialogue",
			mcp.WithDescription("Return the visible tutoring dialogue for a student as a JSON array of {role, text, created_at}."),
			mcp.WithString("student", mcp.Description("Student ID"), mcp.Required()),
		),
		mcpGetDialogue(deps),
	)

	s.AddTool(
		mcp.NewTool("continue_dialogue",
			mcp.WithDescription("Send a message into a student's tutoring dialogue and return the tutor's reply."),
			mcp.WithString("student", mcp.Description("Student ID"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Message to send"), mcp.Required()),
		),
		mcpContinueDialogue(deps),
	)

	return s
}

func mcpListStudents(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		students, err := deps.Store.ListStudents()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list students: %v", err)), nil
		}
		if students == nil {
			students = []string{}
		}
		b, err := json.Marshal(students)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal students: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetDialogue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		student, err := req.RequireString("student")
		if err != nil {
			return mcpError("student is required"), nil
		}

		turns, err := deps.Sessions.History(student)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load dialogue: %v", err)), nil
		}

		type dialogueTurn struct {
			Role      string `json:"role"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
		}
		visible := make([]dialogueTurn, 0, len(turns))
		for _, t := range turns {
			if !t.Visible || !t.Dialogue {
				continue
			}
			visible = append(visible, dialogueTurn{
				Role:      t.Role,
				Text:      t.Text,
				CreatedAt: t.CreatedAt.Format(time.RFC3339),
			})
		}

		b, err := json.Marshal(visible)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal dialogue: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpContinueDialogue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		student, err := req.RequireString("student")
		if err != nil {
			return mcpError("student is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		reply, err := deps.Sessions.Converse(ctx, student, message)
		if err != nil {
			return mcpError(fmt.Sprintf("dialogue turn failed: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
