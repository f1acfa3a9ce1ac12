package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/nyaysaathi/internal/counsel"
	"github.com/kalambet/nyaysaathi/internal/drafting"
	"github.com/kalambet/nyaysaathi/internal/session"
	"github.com/kalambet/nyaysaathi/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions  *session.Manager
	Counsel   *counsel.Service
	Catalog   *drafting.Catalog
	Generator *drafting.Generator
	Store     *storage.Store // optional; if nil, saved drafts and the consultations resource are unavailable
	Now       func() time.Time
}

// NewMCPServer creates an MCP server with the legal-assistance tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := server.NewMCPServer(
		"nyaysaathi",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("Nyay-Saathi: plain-language help with Indian legal documents and questions. Answers are guidance, not legal advice."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_legal_question",
			mcp.WithDescription("Answer a legal question using the guidance library. Pass session_id to continue a conversation."),
			mcp.WithString("question", mcp.Description("The question, in plain language"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session to continue; a new one is started when empty")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("explain_document",
			mcp.WithDescription("Explain a legal document in simple terms: summary, key points, obligations, risks and next steps."),
			mcp.WithString("text", mcp.Description("Full text of the document"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Document name, used in logs")),
		),
		mcpExplain(deps),
	)

	s.AddTool(
		mcp.NewTool("list_templates",
			mcp.WithDescription("List fill-in templates and AI draft kinds with their fields."),
		),
		mcpListTemplates(deps),
	)

	s.AddTool(
		mcp.NewTool("fill_template",
			mcp.WithDescription("Fill a fixed legal template (e.g. Rental Agreement, NDA) with the given values."),
			mcp.WithString("template", mcp.Description("Template name"), mcp.Required()),
			mcp.WithString("values", mcp.Description("JSON object of field id to value"), mcp.Required()),
		),
		mcpFillTemplate(deps),
	)

	s.AddTool(
		mcp.NewTool("draft_document",
			mcp.WithDescription("Draft a legal document of the given kind with the chat model."),
			mcp.WithString("kind", mcp.Description("Draft kind, e.g. Legal Notice"), mcp.Required()),
			mcp.WithString("values", mcp.Description("JSON object of field id to value"), mcp.Required()),
		),
		mcpDraftDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"nyaysaathi://consultations/recent",
			"Recent Consultations",
			mcp.WithResourceDescription("Last 10 answered questions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		var sess *session.Session
		if id := req.GetString("session_id", ""); id != "" {
			sess, err = deps.Sessions.Get(id)
			if err != nil {
				return mcpError(fmt.Sprintf("session %s: %v", id, err)), nil
			}
		} else {
			sess = deps.Sessions.Create()
		}

		ans, err := deps.Counsel.Ask(ctx, sess, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		return mcpJSON(struct {
			SessionID string `json:"session_id"`
			counsel.Answer
		}{sess.ID, ans})
	}
}

func mcpExplain(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		name := req.GetString("name", "document")

		exp, err := deps.Counsel.ExplainText(ctx, name, text)
		if err != nil {
			return mcpError(fmt.Sprintf("explain failed: %v", err)), nil
		}
		return mcpJSON(exp)
	}
}

func mcpListTemplates(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(map[string]any{
			"templates": deps.Catalog.Templates,
			"kinds":     deps.Catalog.Kinds,
		})
	}
}

func mcpFillTemplate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("template")
		if err != nil {
			return mcpError("template is required"), nil
		}
		values, errResult := mcpValues(req)
		if errResult != nil {
			return errResult, nil
		}

		tpl, err := deps.Catalog.Template(name)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := drafting.Validate(tpl.Fields(), values); err != nil {
			return mcpError(fmt.Sprintf("cannot fill %s: %v", tpl.Name, err)), nil
		}

		filled := drafting.Fill(tpl, values, deps.Now())
		if deps.Store != nil {
			if _, err := saveDraft(deps.Store, deps.Now(), tpl.Name, values, filled.Preview, filled.Text); err != nil {
				return mcpError(fmt.Sprintf("filled but failed to save: %v", err)), nil
			}
		}
		return mcpText(filled.Text), nil
	}
}

func mcpDraftDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}
		values, errResult := mcpValues(req)
		if errResult != nil {
			return errResult, nil
		}

		kind, err := deps.Catalog.Kind(name)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		d, err := deps.Generator.Draft(ctx, kind, values)
		if err != nil {
			var verr *drafting.ValidationError
			if errors.As(err, &verr) {
				return mcpError(fmt.Sprintf("cannot draft %s: %v", kind.Name, verr)), nil
			}
			return mcpError(fmt.Sprintf("draft failed: %v", err)), nil
		}
		return mcpText(d.Text), nil
	}
}

func mcpValues(req mcp.CallToolRequest) (map[string]string, *mcp.CallToolResult) {
	raw, err := req.RequireString("values")
	if err != nil {
		return nil, mcpError("values is required")
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, mcpError(fmt.Sprintf("invalid values JSON: %v", err))
	}
	return values, nil
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Store == nil {
			return nil, errors.New("consultation log not available")
		}
		cs, err := deps.Store.RecentConsultations(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent consultations: %w", err)
		}

		type consultationSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
		}

		summaries := make([]consultationSummary, len(cs))
		for i, c := range cs {
			q := c.Question
			if utf8.RuneCountInString(q) > 200 {
				q = string([]rune(q)[:200]) + "..."
			}
			summaries[i] = consultationSummary{
				ID:        c.ID,
				CreatedAt: c.CreatedAt.Format(time.RFC3339),
				Question:  q,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal consultations: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
