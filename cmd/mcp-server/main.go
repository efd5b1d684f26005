package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/config"
	"github.com/imghost/abuseguard/internal/db"
	"github.com/imghost/abuseguard/internal/logic/reports"
	"github.com/imghost/abuseguard/internal/logic/suspension"
	"github.com/imghost/abuseguard/internal/models"
)

// Moderation tool request/response types
type ListPendingReportsInput struct {
	Limit int `json:"limit,omitempty"`
}

type ListPendingReportsOutput struct {
	Reports []models.AbuseReport `json:"reports"`
}

type UpdateReportStatusInput struct {
	ReportID        string `json:"report_id"`
	Status          string `json:"status"`
	Reviewer        string `json:"reviewer"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

type UpdateReportStatusOutput struct {
	Report *models.AbuseReport `json:"report"`
}

type CheckSuspensionInput struct {
	UserID string `json:"user_id"`
}

type CheckSuspensionOutput struct {
	Status  models.SuspensionStatus `json:"status"`
	History []models.Suspension     `json:"history"`
}

type SuspendUserInput struct {
	UserID        string  `json:"user_id"`
	Reason        string  `json:"reason"`
	DurationHours float64 `json:"duration_hours,omitempty"` // 0 means permanent
	SuspendedBy   string  `json:"suspended_by"`
}

type SuspendUserOutput struct {
	Suspension *models.Suspension `json:"suspension"`
	Message    string             `json:"message"`
}

// ModerationServer holds the dependencies behind the MCP tools.
type ModerationServer struct {
	reports     *reports.Workflow
	suspensions *suspension.Registry
	logger      *zap.Logger
}

// ListPendingReports returns the newest pending abuse reports.
func (s *ModerationServer) ListPendingReports(ctx context.Context, req *mcp.CallToolRequest, input ListPendingReportsInput) (*mcp.CallToolResult, ListPendingReportsOutput, error) {
	list, err := s.reports.ListPending(ctx, input.Limit)
	if err != nil {
		return nil, ListPendingReportsOutput{}, fmt.Errorf("list pending reports: %w", err)
	}
	// Always return an array, even when empty
	if list == nil {
		list = []models.AbuseReport{}
	}
	s.logger.Info("listed pending reports", zap.Int("count", len(list)))
	return nil, ListPendingReportsOutput{Reports: list}, nil
}

// UpdateReportStatus moves a report forward in review.
func (s *ModerationServer) UpdateReportStatus(ctx context.Context, req *mcp.CallToolRequest, input UpdateReportStatusInput) (*mcp.CallToolResult, UpdateReportStatusOutput, error) {
	var notes *string
	if input.ResolutionNotes != "" {
		notes = &input.ResolutionNotes
	}
	r, err := s.reports.UpdateStatus(ctx, input.ReportID, models.ReportStatus(input.Status), input.Reviewer, notes)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, UpdateReportStatusOutput{}, fmt.Errorf("report %s not found", input.ReportID)
		}
		return nil, UpdateReportStatusOutput{}, fmt.Errorf("update report %s: %w", input.ReportID, err)
	}
	return nil, UpdateReportStatusOutput{Report: r}, nil
}

// CheckSuspension reports whether a user is suspended and lists their history.
func (s *ModerationServer) CheckSuspension(ctx context.Context, req *mcp.CallToolRequest, input CheckSuspensionInput) (*mcp.CallToolResult, CheckSuspensionOutput, error) {
	if input.UserID == "" {
		return nil, CheckSuspensionOutput{}, errors.New("user_id is required")
	}
	st, err := s.suspensions.CheckActive(ctx, input.UserID)
	if err != nil {
		return nil, CheckSuspensionOutput{}, err
	}
	history, err := s.suspensions.History(ctx, input.UserID)
	if err != nil {
		return nil, CheckSuspensionOutput{}, err
	}
	if history == nil {
		history = []models.Suspension{}
	}
	return nil, CheckSuspensionOutput{Status: st, History: history}, nil
}

// SuspendUser suspends an account, permanently when no duration is given.
func (s *ModerationServer) SuspendUser(ctx context.Context, req *mcp.CallToolRequest, input SuspendUserInput) (*mcp.CallToolResult, SuspendUserOutput, error) {
	if input.SuspendedBy == "" {
		return nil, SuspendUserOutput{}, errors.New("suspended_by is required")
	}
	var duration *time.Duration
	if input.DurationHours < 0 {
		return nil, SuspendUserOutput{}, suspension.ErrInvalidSuspension
	}
	if input.DurationHours > 0 {
		d := time.Duration(input.DurationHours * float64(time.Hour))
		duration = &d
	}
	sus, err := s.suspensions.Suspend(ctx, input.UserID, input.Reason, duration, input.SuspendedBy)
	if err != nil {
		return nil, SuspendUserOutput{}, err
	}
	msg := fmt.Sprintf("Suspended %s permanently", sus.UserID)
	if sus.SuspendedUntil != nil {
		msg = fmt.Sprintf("Suspended %s until %s", sus.UserID, sus.SuspendedUntil.Format(time.RFC3339))
	}
	return nil, SuspendUserOutput{Suspension: sus, Message: msg}, nil
}

// moderationStore is what the tools need from the relational store.
type moderationStore interface {
	suspension.Store
	reports.Store
}

// objectSchema is the output schema shared by every tool. Results carry
// timestamps, which are serialized as RFC 3339 strings.
var objectSchema = map[string]interface{}{"type": "object"}

// newMCPServer registers the moderation tools on a new MCP server.
func newMCPServer(ms *ModerationServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "abuseguard",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_pending_reports",
		Description: "List abuse reports waiting for review, newest first",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"maximum":     reports.MaxListLimit,
					"description": "Maximum number of reports (optional, defaults to 50)",
				},
			},
		},
		OutputSchema: objectSchema,
	}, ms.ListPendingReports)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_report_status",
		Description: "Move an abuse report forward: pending to reviewing, or to resolved or dismissed",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"report_id": map[string]interface{}{
					"type":        "string",
					"description": "Report ID",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"reviewing", "resolved", "dismissed"},
					"description": "New status",
				},
				"reviewer": map[string]interface{}{
					"type":        "string",
					"description": "Moderator making the change",
				},
				"resolution_notes": map[string]interface{}{
					"type":        "string",
					"description": "Notes recorded with the decision (optional)",
				},
			},
			"required": []string{"report_id", "status", "reviewer"},
		},
		OutputSchema: objectSchema,
	}, ms.UpdateReportStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_suspension",
		Description: "Check whether a user is currently suspended and list past suspensions",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User ID",
				},
			},
			"required": []string{"user_id"},
		},
		OutputSchema: objectSchema,
	}, ms.CheckSuspension)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "suspend_user",
		Description: "Suspend a user account for a number of hours, or permanently",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User ID",
				},
				"reason": map[string]interface{}{
					"type":        "string",
					"description": "Reason shown to the user",
				},
				"duration_hours": map[string]interface{}{
					"type":        "number",
					"minimum":     0,
					"description": "Suspension length in hours (optional, permanent when omitted)",
				},
				"suspended_by": map[string]interface{}{
					"type":        "string",
					"description": "Moderator applying the suspension",
				},
			},
			"required": []string{"user_id", "reason", "suspended_by"},
		},
		OutputSchema: objectSchema,
	}, ms.SuspendUser)

	return server
}

func main() {
	_ = godotenv.Load()
	appCfg := config.Load()

	// Initialize logger for MCP server - use stderr to avoid stdio conflicts
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}      // Force stderr output
	cfg.ErrorOutputPaths = []string{"stderr"} // Force stderr for errors

	// Use same encoder config as observability package for consistency
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger = logger.Named("abuseguard-mcp").With(zap.String("service", "abuseguard-mcp"))
	zap.ReplaceGlobals(logger)

	logger.Info("Starting abuseguard moderation MCP server")

	var store moderationStore
	if appCfg.StoreBackend == "memory" {
		logger.Warn("using in-memory store; moderation state is not shared with the server")
		store = db.NewMemoryStore()
	} else {
		pg, err := db.InitPostgres(appCfg.PostgresDSN, 10, 5, 30*time.Minute, 5*time.Minute)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	}

	// Suspension lookups are not cached here so that changes made by the
	// server are seen immediately.
	ms := &ModerationServer{
		reports:     reports.NewWorkflow(store, nil, logger, nil),
		suspensions: suspension.NewRegistry(store, 0, logger, nil),
		logger:      logger,
	}
	server := newMCPServer(ms)

	stdioTransport := &mcp.StdioTransport{}

	// Add logging transport to debug MCP communication
	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: stdioTransport,
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")

	if err := server.Run(context.Background(), loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
