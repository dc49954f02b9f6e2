package visit

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hims/hims/internal/platform/auth"
	"github.com/hims/hims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleRegistrar, auth.RoleLabTech, auth.RolePharmacist, auth.RolePhysician))
	readGroup.GET("/visits", h.ListVisits)
	readGroup.GET("/visits/:id", h.GetVisit)
	readGroup.GET("/visits/:id/history", h.GetStatusHistory)
	readGroup.GET("/visits/:id/lab-results", h.ListLabResults)
	readGroup.GET("/visits/:id/prescriptions", h.ListPrescriptions)
	readGroup.GET("/visits/:id/diagnoses", h.ListDiagnoses)

	frontDesk := api.Group("", auth.RequireRole(auth.RoleRegistrar))
	frontDesk.POST("/visits", h.CreateVisit)
	frontDesk.POST("/visits/:id/close", h.ForceClose)

	lab := api.Group("", auth.RequireRole(auth.RoleLabTech))
	lab.POST("/visits/:id/lab-results", h.AddLabResult)
	lab.POST("/visits/:id/lab/complete", h.CompleteLab)

	pharmacy := api.Group("", auth.RequireRole(auth.RolePharmacist))
	pharmacy.POST("/visits/:id/prescriptions", h.AddPrescription)
	pharmacy.POST("/visits/:id/pharmacy/complete", h.CompletePharmacy)

	doctor := api.Group("", auth.RequireRole(auth.RolePhysician))
	doctor.POST("/visits/:id/diagnoses", h.AddDiagnosis)
	doctor.POST("/visits/:id/doctor/complete", h.CompleteDoctor)
	doctor.POST("/visits/:id/selections", h.SelectItems)
}

// respondError translates service errors: workflow rejections carry
// their own HTTP status, unknown visits are 404, the rest are 500.
func respondError(c echo.Context, err error) error {
	var we *WorkflowError
	if errors.As(err, &we) {
		return c.JSON(we.HTTPStatus(), map[string]interface{}{
			"error":   we.Code,
			"message": we.Message,
			"details": we.Details,
		})
	}
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func visitID(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

func actor(c echo.Context) string {
	ctx := c.Request().Context()
	if name := auth.UserNameFromContext(ctx); name != "" {
		return name
	}
	return auth.UserIDFromContext(ctx)
}

type createVisitRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Variant   Variant   `json:"variant"`
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var req createVisitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.CreateVisit(c.Request().Context(), req.PatientID, req.Variant)
	if err != nil {
		var we *WorkflowError
		if errors.As(err, &we) {
			return respondError(c, err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	detail, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if pid := c.QueryParam("patient_id"); pid != "" {
		patientID, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		visits, total, err := h.svc.ListVisitsByPatient(ctx, patientID, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
	}

	if status := c.QueryParam("status"); status != "" {
		visits, total, err := h.svc.ListVisitsByStatus(ctx, Status(status), pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
	}

	visits, total, err := h.svc.ListVisits(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddLabResult(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var lr LabResult
	if err := c.Bind(&lr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	lr.RecordedBy = actor(c)
	if err := h.svc.AddLabResult(c.Request().Context(), id, &lr); err != nil {
		return h.addItemError(c, err)
	}
	return c.JSON(http.StatusCreated, lr)
}

func (h *Handler) AddPrescription(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Prescription
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.DispensedBy = actor(c)
	if err := h.svc.AddPrescription(c.Request().Context(), id, &p); err != nil {
		return h.addItemError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) AddDiagnosis(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var d Diagnosis
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.DiagnosedBy = actor(c)
	if err := h.svc.AddDiagnosis(c.Request().Context(), id, &d); err != nil {
		return h.addItemError(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

// addItemError distinguishes validation problems (400) from workflow
// rejections and lookup failures.
func (h *Handler) addItemError(c echo.Context, err error) error {
	var we *WorkflowError
	if errors.As(err, &we) || errors.Is(err, ErrNotFound) {
		return respondError(c, err)
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) CompleteLab(c echo.Context) error {
	return h.complete(c, DeptLab)
}

func (h *Handler) CompletePharmacy(c echo.Context) error {
	return h.complete(c, DeptPharmacy)
}

func (h *Handler) CompleteDoctor(c echo.Context) error {
	return h.complete(c, DeptDoctor)
}

func (h *Handler) complete(c echo.Context, dept Department) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.CompleteDepartment(c.Request().Context(), id, dept, actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

type selectItemsRequest struct {
	LabTestIDs []uuid.UUID `json:"lab_test_ids"`
	DrugIDs    []uuid.UUID `json:"drug_ids"`
}

func (h *Handler) SelectItems(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req selectItemsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.SelectDoctorDirectedItems(c.Request().Context(), id, req.LabTestIDs, req.DrugIDs, actor(c))
	if err != nil {
		return h.addItemError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

type forceCloseRequest struct {
	Reason *string `json:"reason"`
}

func (h *Handler) ForceClose(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req forceCloseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.ForceClose(c.Request().Context(), id, actor(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.GetStatusHistory(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) ListLabResults(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	results, err := h.svc.ListLabResults(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	prescriptions, err := h.svc.ListPrescriptions(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, prescriptions)
}

func (h *Handler) ListDiagnoses(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	diagnoses, err := h.svc.ListDiagnoses(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, diagnoses)
}
