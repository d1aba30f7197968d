package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/you/mediqueue/services/appointment-service/internal/domain"
	"github.com/you/mediqueue/services/appointment-service/internal/service"
)

type Handler struct {
	svc      *service.BookingService
	sessions *service.SessionService
	log      *logrus.Logger
}

func NewHandler(svc *service.BookingService, sessions *service.SessionService, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, sessions: sessions, log: log}
}

func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()
	r.GET("/", h.Home)
	r.GET("/healthz", h.Health)

	r.GET("/doctors", h.ListDoctors)
	r.GET("/doctor/search", h.SearchDoctors)
	r.GET("/doctor/specializations", h.Specializations)
	r.PUT("/doctor/slots/update", h.UpdateSlots)
	r.POST("/doctor/slots/reset", h.ResetSlots)

	r.POST("/register_patient", h.RegisterPatient)
	r.GET("/patient", h.CurrentPatient)

	r.POST("/book", h.Book)
	r.POST("/logout", h.Logout)
	return r
}

func (h *Handler) Home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Healthcare Appointment API is running"})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /book
func (h *Handler) Book(c *gin.Context) {
	var in struct {
		DoctorID uint   `json:"doctor_id" binding:"required"`
		Time     string `json:"time" binding:"required"` // HH:MM
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.Book(c.Request.Context(), c.GetHeader("Authorization"), in.DoctorID, in.Time)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Published {
		c.JSON(http.StatusOK, gin.H{
			"status":         "Booked, but event publish failed",
			"appointment_id": res.Appointment.ID,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Appointment booked successfully",
		"appointment_id": res.Appointment.ID,
	})
}

// PUT /doctor/slots/update
func (h *Handler) UpdateSlots(c *gin.Context) {
	var in struct {
		AvailableSlots []string `json:"available_slots" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doctor, err := h.svc.UpdateSlots(c.Request.Context(), c.GetHeader("Authorization"), in.AvailableSlots)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "Doctor slots updated successfully",
		"doctor_id":       doctor.ID,
		"available_slots": doctor.AvailableSlots,
	})
}

// POST /doctor/slots/reset, invoked by an external daily scheduler.
func (h *Handler) ResetSlots(c *gin.Context) {
	reset, skipped, err := h.svc.ResetAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Reset slots for %d doctors", reset),
		"skipped": skipped,
	})
}

// POST /logout
func (h *Handler) Logout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	token := strings.TrimSpace(header[len("bearer "):])
	if err := h.sessions.Logout(c.Request.Context(), token); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// POST /register_patient
func (h *Handler) RegisterPatient(c *gin.Context) {
	var in struct {
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"required"`
		Phone string `json:"phone" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svc.RegisterPatient(c.Request.Context(), c.GetHeader("Authorization"), in.Name, in.Email, in.Phone)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Patient registered successfully!", "patient_id": p.ID})
}

// GET /patient
func (h *Handler) CurrentPatient(c *gin.Context) {
	p, err := h.svc.CurrentPatient(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patient_id": p.ID,
		"name":       p.Name,
		"email":      p.Email,
		"phone":      p.Phone,
	})
}

// GET /doctors
func (h *Handler) ListDoctors(c *gin.Context) {
	doctors, err := h.svc.ListDoctors(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doctorViews(doctors))
}

// GET /doctor/search?specialization=&name=
func (h *Handler) SearchDoctors(c *gin.Context) {
	doctors, err := h.svc.SearchDoctors(c.Request.Context(), c.Query("specialization"), c.Query("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(doctors) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching doctors found"})
		return
	}
	c.JSON(http.StatusOK, doctorViews(doctors))
}

// GET /doctor/specializations
func (h *Handler) Specializations(c *gin.Context) {
	specs, err := h.svc.Specializations(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, specs)
}

func doctorViews(doctors []domain.Doctor) []gin.H {
	out := make([]gin.H, 0, len(doctors))
	for _, d := range doctors {
		slots := d.AvailableSlots
		if slots == nil {
			slots = []string{}
		}
		out = append(out, gin.H{
			"id":              d.ID,
			"name":            d.Name,
			"specialization":  d.Specialization,
			"available_slots": slots,
			"booked_slots":    d.BookedSlots,
			"daily_limit":     d.DailyLimit,
		})
	}
	return out
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrDoctorNotFound), errors.Is(err, domain.ErrPatientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSlotUnavailable), errors.Is(err, domain.ErrAlreadyExpired), errors.Is(err, domain.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSlotContested):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
