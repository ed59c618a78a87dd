package service

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/opsight-go/internal/models"
	"github.com/raphaelgruber/opsight-go/internal/pipeline"
)

// LogTicketSink records finished reports in the structured log. It
// stands in for an external ticketing integration.
type LogTicketSink struct{}

var _ pipeline.TicketSink = (*LogTicketSink)(nil)

func (LogTicketSink) FileTicket(_ context.Context, jobID string, result *models.AnalysisResult) error {
	slog.Info("incident ticket filed",
		"job_id", jobID,
		"severity", result.Severity,
		"findings", len(result.Findings),
		"summary", result.ExecutiveSummary)
	return nil
}
