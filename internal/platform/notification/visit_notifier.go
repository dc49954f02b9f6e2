package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// VisitNotifier sends visit lifecycle notifications through the manager.
// Delivery failures are logged but never surfaced to the caller so that
// workflow operations cannot fail because of a flaky mail gateway.
type VisitNotifier struct {
	manager *NotificationManager
	logger  zerolog.Logger
}

// NewVisitNotifier constructs a VisitNotifier.
func NewVisitNotifier(mgr *NotificationManager, logger zerolog.Logger) *VisitNotifier {
	return &VisitNotifier{manager: mgr, logger: logger}
}

func (n *VisitNotifier) send(ctx context.Context, templateID, recipient string, data map[string]string) {
	if recipient == "" {
		return
	}
	if _, err := n.manager.SendFromTemplate(ctx, templateID, data, recipient); err != nil {
		n.logger.Warn().Err(err).
			Str("template_id", templateID).
			Str("visit_number", data["visit_number"]).
			Msg("visit notification failed")
	}
}

// VisitOpened notifies the patient that a new visit was opened.
func (n *VisitNotifier) VisitOpened(ctx context.Context, recipient, patientName, visitNumber, date string) {
	n.send(ctx, "visit-opened", recipient, map[string]string{
		"patient_name": patientName,
		"visit_number": visitNumber,
		"date":         date,
	})
}

// DepartmentCompleted notifies the patient when a department finishes its work.
// Only lab and pharmacy completions have patient-facing templates.
func (n *VisitNotifier) DepartmentCompleted(ctx context.Context, recipient, patientName, visitNumber, department string) {
	var templateID string
	switch department {
	case "lab":
		templateID = "lab-complete"
	case "pharmacy":
		templateID = "pharmacy-complete"
	default:
		return
	}
	n.send(ctx, templateID, recipient, map[string]string{
		"patient_name": patientName,
		"visit_number": visitNumber,
	})
}

// VisitCompleted notifies the patient that all departments finished.
func (n *VisitNotifier) VisitCompleted(ctx context.Context, recipient, patientName, visitNumber string) {
	n.send(ctx, "visit-completed", recipient, map[string]string{
		"patient_name": patientName,
		"visit_number": visitNumber,
	})
}

// VisitClosed notifies the patient that the visit was force-closed.
func (n *VisitNotifier) VisitClosed(ctx context.Context, recipient, patientName, visitNumber string) {
	n.send(ctx, "visit-closed", recipient, map[string]string{
		"patient_name": patientName,
		"visit_number": visitNumber,
	})
}
