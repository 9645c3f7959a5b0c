package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medlab/lims/internal/platform/auth"
)

// AccessEntry describes one access to the API: who touched which resource,
// how, and with what outcome.
type AccessEntry struct {
	UserID     string
	Username   string
	Role       string
	Resource   string
	ResourceID string
	PatientID  string
	Action     string // read, create, update, delete
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// Audit emits a structured "access_audit" event for every /api/v1 request
// after the handler has run, so the recorded status is the final one.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			entry := buildAccessEntry(c, err)

			evt := logger.Info()
			if entry.StatusCode == http.StatusUnauthorized || entry.StatusCode == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("username", entry.Username).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Str("user_agent", entry.UserAgent).
				Int("status", entry.StatusCode).
				Msg("access_audit")

			return err
		}
	}
}

func buildAccessEntry(c echo.Context, err error) AccessEntry {
	req := c.Request()
	ctx := req.Context()

	entry := AccessEntry{
		Timestamp:  time.Now().UTC(),
		Path:       req.URL.Path,
		Method:     req.Method,
		IPAddress:  c.RealIP(),
		UserAgent:  req.UserAgent(),
		StatusCode: c.Response().Status,
		Action:     httpMethodToAction(req.Method),
		Username:   auth.UsernameFromContext(ctx),
		Role:       auth.RoleFromContext(ctx),
	}
	if he, ok := err.(*echo.HTTPError); ok {
		entry.StatusCode = he.Code
	}
	if uid, ok := auth.UserIDFromContext(ctx); ok {
		entry.UserID = uid.String()
	}
	if rid, ok := c.Get("request_id").(string); ok {
		entry.RequestID = rid
	}
	entry.Resource, entry.ResourceID = extractResource(entry.Path)
	entry.PatientID = extractPatientID(c, entry.Resource, entry.ResourceID)
	return entry
}

// isAuditablePath returns true if the path is under /api/v1/.
func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource parses the resource name and, when present, the id that
// follows it.
//
//   - /api/v1/patients           -> patients, ""
//   - /api/v1/patients/<id>/history -> patients, <id>
//   - /api/v1/admin/users/<id>   -> users, <id>
func extractResource(path string) (string, string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) > 0 && segments[0] == "admin" {
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", ""
	}
	resource := segments[0]
	if len(segments) > 1 {
		return resource, segments[1]
	}
	return resource, ""
}

// extractPatientID finds a patient identifier in the path or the
// patient_id query parameter.
func extractPatientID(c echo.Context, resource, resourceID string) string {
	if resource == "patients" && isUUIDLike(resourceID) {
		return resourceID
	}
	if patient := c.QueryParam("patient_id"); isUUIDLike(patient) {
		return patient
	}
	return ""
}

func isUUIDLike(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
