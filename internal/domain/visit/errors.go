package visit

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by repositories when a visit does not exist.
var ErrNotFound = errors.New("visit not found")

// Workflow error codes. Handlers map these to HTTP statuses; in-process
// callers can branch on them.
const (
	CodeOpenVisitExists           = "open_visit_exists"
	CodeAlreadyCompleted          = "already_completed"
	CodeEmptyDepartment           = "empty_department"
	CodeAlreadySelected           = "already_selected"
	CodeRestrictedItem            = "restricted_item"
	CodeVisitTerminal             = "visit_terminal"
	CodeNotDoctorDirected         = "not_doctor_directed"
	CodeDepartmentAlreadyComplete = "department_already_complete"
)

// WorkflowError is a business rule rejection. It is not an internal
// failure: the request was understood and refused.
type WorkflowError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the business code to an HTTP status.
func (e *WorkflowError) HTTPStatus() int {
	switch e.Code {
	case CodeOpenVisitExists, CodeAlreadyCompleted, CodeAlreadySelected,
		CodeVisitTerminal, CodeDepartmentAlreadyComplete:
		return http.StatusConflict
	case CodeEmptyDepartment, CodeRestrictedItem, CodeNotDoctorDirected:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func newWorkflowError(code, message string) *WorkflowError {
	return &WorkflowError{Code: code, Message: message}
}

func (e *WorkflowError) withDetail(key string, value interface{}) *WorkflowError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsCode reports whether err is a WorkflowError with the given code.
func IsCode(err error, code string) bool {
	var we *WorkflowError
	return errors.As(err, &we) && we.Code == code
}

func errTerminal(v *Visit) *WorkflowError {
	return newWorkflowError(CodeVisitTerminal, "visit is in a terminal state").
		withDetail("status", v.Status)
}

func errOpenVisitExists(existing *Visit) *WorkflowError {
	return newWorkflowError(CodeOpenVisitExists, "patient already has an open visit").
		withDetail("visit_id", existing.ID).
		withDetail("visit_number", existing.VisitNumber).
		withDetail("status", existing.Status).
		withDetail("lab_done", existing.LabDone).
		withDetail("pharmacy_done", existing.PharmacyDone).
		withDetail("doctor_done", existing.DoctorDone).
		withDetail("created_at", existing.CreatedAt)
}
