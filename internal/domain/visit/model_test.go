package visit

import (
	"testing"

	"github.com/google/uuid"
)

func TestDeriveStatus_AllCombinations(t *testing.T) {
	cases := []struct {
		lab, pharmacy, doctor bool
		want                  Status
	}{
		{false, false, false, StatusPendingAll},
		{true, false, false, StatusPendingAll},
		{false, true, false, StatusPendingAll},
		{false, false, true, StatusPendingAll},
		{false, true, true, StatusPendingLab},
		{true, false, true, StatusPendingPharmacy},
		{true, true, false, StatusPendingDoctor},
		{true, true, true, StatusCompleted},
	}
	for _, tc := range cases {
		got := DeriveStatus(tc.lab, tc.pharmacy, tc.doctor)
		if got != tc.want {
			t.Errorf("DeriveStatus(%v,%v,%v) = %s, want %s",
				tc.lab, tc.pharmacy, tc.doctor, got, tc.want)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusClosedIncomplete}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	open := []Status{StatusPendingAll, StatusPendingLab, StatusPendingPharmacy, StatusPendingDoctor}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("expected %s to be open", s)
		}
	}
}

func TestVisit_SetDone(t *testing.T) {
	v := &Visit{Status: StatusPendingAll}

	v.SetDone(DeptLab)
	if !v.LabDone || v.Status != StatusPendingAll {
		t.Errorf("after lab: lab_done=%v status=%s", v.LabDone, v.Status)
	}

	v.SetDone(DeptPharmacy)
	if v.Status != StatusPendingDoctor {
		t.Errorf("after lab+pharmacy: status = %s, want %s", v.Status, StatusPendingDoctor)
	}

	v.SetDone(DeptDoctor)
	if v.Status != StatusCompleted {
		t.Errorf("after all: status = %s, want %s", v.Status, StatusCompleted)
	}
}

func TestVisit_SelectionMade(t *testing.T) {
	v := &Visit{Variant: VariantDoctorDirected}
	if v.SelectionMade() {
		t.Error("expected no selection on a fresh visit")
	}
	v.RestrictedDrugIDs = append(v.RestrictedDrugIDs, uuid.New())
	if !v.SelectionMade() {
		t.Error("expected selection after ids recorded")
	}
}

func TestValidDepartment(t *testing.T) {
	for _, d := range []Department{DeptLab, DeptPharmacy, DeptDoctor} {
		if !ValidDepartment(d) {
			t.Errorf("expected %s to be valid", d)
		}
	}
	if ValidDepartment("radiology") {
		t.Error("expected radiology to be invalid")
	}
}
