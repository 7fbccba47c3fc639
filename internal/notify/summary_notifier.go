package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

// SummaryNotifier emails finished interview summaries to the care team.
type SummaryNotifier struct {
	sender EmailSender
	to     string
	logger *logging.Logger
}

// NewSummaryNotifier returns a notifier that does nothing when either the
// sender or the recipient is missing.
func NewSummaryNotifier(sender EmailSender, careTeamEmail string, logger *logging.Logger) *SummaryNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &SummaryNotifier{sender: sender, to: strings.TrimSpace(careTeamEmail), logger: logger}
}

// NotifySummary sends the summary email. Delivery failures are logged only.
func (n *SummaryNotifier) NotifySummary(ctx context.Context, rec summary.Record) {
	if n == nil || n.sender == nil || n.to == "" {
		return
	}
	if err := n.sender.Send(ctx, summaryEmail(n.to, rec)); err != nil {
		n.logger.Warn("notify: summary email failed", "error", err, "patient_id", rec.PatientID)
	}
}

func summaryEmail(to string, rec summary.Record) EmailMessage {
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	subject := fmt.Sprintf("Intake summary ready: patient %s", rec.PatientID)

	var text, markup strings.Builder
	fmt.Fprintf(&text, "Patient: %s\nCompleted: %s\n\n%s\n", rec.PatientID, at.UTC().Format(time.RFC1123), rec.Summary)
	fmt.Fprintf(&markup, "<h2>Intake summary</h2><p><strong>Patient:</strong> %s<br><strong>Completed:</strong> %s</p><pre>%s</pre>",
		html.EscapeString(rec.PatientID), at.UTC().Format(time.RFC1123), html.EscapeString(rec.Summary))

	if len(rec.Conversation) > 0 {
		text.WriteString("\nTranscript:\n")
		markup.WriteString("<h3>Transcript</h3><ol>")
		for _, m := range rec.Conversation {
			fmt.Fprintf(&text, "- %s: %s\n", m.Role, m.Content)
			fmt.Fprintf(&markup, "<li><strong>%s:</strong> %s</li>", html.EscapeString(string(m.Role)), html.EscapeString(m.Content))
		}
		markup.WriteString("</ol>")
	}

	return EmailMessage{
		To:      to,
		ToName:  "Care Team",
		Subject: subject,
		Body:    text.String(),
		HTML:    markup.String(),
	}
}
