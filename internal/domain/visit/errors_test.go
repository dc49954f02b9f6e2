package visit

import (
	"fmt"
	"net/http"
	"testing"
)

func TestWorkflowError_HTTPStatus(t *testing.T) {
	cases := map[string]int{
		CodeOpenVisitExists:           http.StatusConflict,
		CodeAlreadyCompleted:          http.StatusConflict,
		CodeAlreadySelected:           http.StatusConflict,
		CodeVisitTerminal:             http.StatusConflict,
		CodeDepartmentAlreadyComplete: http.StatusConflict,
		CodeEmptyDepartment:           http.StatusUnprocessableEntity,
		CodeRestrictedItem:            http.StatusUnprocessableEntity,
		CodeNotDoctorDirected:         http.StatusUnprocessableEntity,
	}
	for code, want := range cases {
		we := newWorkflowError(code, "x")
		if got := we.HTTPStatus(); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", newWorkflowError(CodeRestrictedItem, "nope"))
	if !IsCode(err, CodeRestrictedItem) {
		t.Error("expected IsCode to unwrap")
	}
	if IsCode(err, CodeVisitTerminal) {
		t.Error("expected code mismatch to be false")
	}
	if IsCode(fmt.Errorf("plain"), CodeRestrictedItem) {
		t.Error("expected plain error to be false")
	}
}
