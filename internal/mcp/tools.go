package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/report"
	"github.com/fedra-bim/fedra/internal/storage"
)

func (s *Server) registerTools() {
	// fedra_list_models — the federated models and their freshness.
	s.mcpServer.AddTool(
		mcplib.NewTool("fedra_list_models",
			mcplib.WithDescription(`List the registered discipline models.

WHAT YOU GET BACK: one entry per model with id, discipline, element count,
load status, and last update time. Use it to see which disciplines are
present and how fresh each model is before running tests.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListModels,
	)

	// fedra_run_test — execute one clash test now.
	s.mcpServer.AddTool(
		mcplib.NewTool("fedra_run_test",
			mcplib.WithDescription(`Run a clash test and return the run summary.

WHEN TO USE: after a model update, or when a coordinator asks for current
results. Re-running is safe: existing clashes keep their status, assignment,
and comments; only geometry is refreshed.

WHAT YOU GET BACK: created/updated/auto-closed counts, total clashes, and
a severity breakdown. Use fedra_list_clashes to inspect the records.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("test_id",
				mcplib.Description("UUID of the clash test to run"),
				mcplib.Required(),
			),
		),
		s.handleRunTest,
	)

	// fedra_list_clashes — filtered clash query.
	s.mcpServer.AddTool(
		mcplib.NewTool("fedra_list_clashes",
			mcplib.WithDescription(`Query clash records with structured filters.

FILTER EXAMPLES:
- Open critical work: status="new", severity="critical"
- One person's queue: assigned_to="alice"
- Everything from one test: test_id="<uuid>"

Results sort by severity (highest first), creation, or update time.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("test_id",
				mcplib.Description("Filter by clash test UUID"),
			),
			mcplib.WithString("status",
				mcplib.Description("Filter by status: new, active, resolved, approved, ignored"),
			),
			mcplib.WithString("severity",
				mcplib.Description("Filter by severity: info, minor, major, critical"),
			),
			mcplib.WithString("assigned_to",
				mcplib.Description("Filter by assignee"),
			),
			mcplib.WithString("sort_by",
				mcplib.Description("Sort order: severity, created, or updated (default updated)"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleListClashes,
	)

	// fedra_set_clash_status — one lifecycle transition.
	s.mcpServer.AddTool(
		mcplib.NewTool("fedra_set_clash_status",
			mcplib.WithDescription(`Move a clash through its lifecycle.

LEGAL TRANSITIONS: new/active clashes may become active, resolved, approved,
or ignored. Resolved clashes may be approved. Closed clashes (resolved,
approved, ignored) may only reopen to active. Nothing returns to new.

Every transition appends one audit comment with your note.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("clash_id",
				mcplib.Description("UUID of the clash"),
				mcplib.Required(),
			),
			mcplib.WithString("status",
				mcplib.Description("Target status: active, resolved, approved, ignored"),
				mcplib.Required(),
			),
			mcplib.WithString("updated_by",
				mcplib.Description("Who is making the change"),
				mcplib.Required(),
			),
			mcplib.WithString("note",
				mcplib.Description("Audit note explaining the change"),
			),
		),
		s.handleSetClashStatus,
	)

	// fedra_statistics — aggregate coordination health.
	s.mcpServer.AddTool(
		mcplib.NewTool("fedra_statistics",
			mcplib.WithDescription(`Aggregate clash statistics for the whole project or one test.

WHAT YOU GET BACK: counts by status, severity, category pair, and assignee,
plus the resolution rate and the most clash-prone category pairs. Use it to
summarize coordination health before drilling into individual clashes.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("test_id",
				mcplib.Description("Optional: restrict statistics to one clash test UUID"),
			),
		),
		s.handleStatistics,
	)
}

func (s *Server) handleListModels(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	models := s.models.List()
	data, _ := json.MarshalIndent(map[string]any{
		"models": models,
		"total":  len(models),
	}, "", "  ")
	return textResult(string(data)), nil
}

func (s *Server) handleRunTest(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	testID, err := uuid.Parse(request.GetString("test_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid test_id: %v", err)), nil
	}
	result, err := s.coord.RunTest(ctx, testID)
	if err != nil {
		return errorResult(fmt.Sprintf("run failed: %v", err)), nil
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	return textResult(string(data)), nil
}

func (s *Server) handleListClashes(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	filter := storage.ClashFilter{
		AssignedTo: request.GetString("assigned_to", ""),
		SortBy:     request.GetString("sort_by", ""),
		Limit:      request.GetInt("limit", 50),
	}
	if raw := request.GetString("test_id", ""); raw != "" {
		testID, err := uuid.Parse(raw)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid test_id: %v", err)), nil
		}
		filter.TestID = &testID
	}
	if status := request.GetString("status", ""); status != "" {
		if !model.ClashStatus(status).Valid() {
			return errorResult(fmt.Sprintf("unknown status %q", status)), nil
		}
		filter.Status = []model.ClashStatus{model.ClashStatus(status)}
	}
	if severity := request.GetString("severity", ""); severity != "" {
		if !model.Severity(severity).Valid() {
			return errorResult(fmt.Sprintf("unknown severity %q", severity)), nil
		}
		filter.Severity = []model.Severity{model.Severity(severity)}
	}

	matches, total, err := s.service.Query(ctx, filter)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	data, _ := json.MarshalIndent(map[string]any{
		"clashes": matches,
		"total":   total,
	}, "", "  ")
	return textResult(string(data)), nil
}

func (s *Server) handleSetClashStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	clashID, err := uuid.Parse(request.GetString("clash_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid clash_id: %v", err)), nil
	}
	status := model.ClashStatus(request.GetString("status", ""))
	updatedBy := request.GetString("updated_by", "")
	note := request.GetString("note", "")
	if note == "" {
		note = fmt.Sprintf("status set to %s", status)
	}

	c, err := s.service.SetStatus(ctx, clashID, status, updatedBy, note)
	if err != nil {
		return errorResult(fmt.Sprintf("transition failed: %v", err)), nil
	}
	data, _ := json.MarshalIndent(c, "", "  ")
	return textResult(string(data)), nil
}

func (s *Server) handleStatistics(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var filter storage.ClashFilter
	if raw := request.GetString("test_id", ""); raw != "" {
		testID, err := uuid.Parse(raw)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid test_id: %v", err)), nil
		}
		filter.TestID = &testID
	}
	matches, _, err := s.service.Query(ctx, filter)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	data, _ := json.MarshalIndent(report.Statistics(matches), "", "  ")
	return textResult(string(data)), nil
}
