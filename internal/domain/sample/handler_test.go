package sample

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/validate"
	"github.com/medlab/lims/pkg/pagination"
)

// newTestServer mounts the sample routes behind a middleware that
// authenticates every request with the X-Role header.
func newTestServer() (*echo.Echo, *testEnv) {
	env := newTestEnv()
	e := echo.New()
	e.Validator = validate.New()
	e.HTTPErrorHandler = apperr.ErrorHandler
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), uuid.New(), "tester", c.Request().Header.Get("X-Role"))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(env.svc).RegisterRoutes(api)
	return e, env
}

func do(e *echo.Echo, method, path, role, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set("X-Role", role)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_AssignAndCollect(t *testing.T) {
	e, env := newTestServer()

	body := `{"patient_id":"` + env.patient.ID.String() + `","test_ids":["` + env.cbc.ID.String() + `"],"priority":"stat"}`
	rec := do(e, http.MethodPost, "/api/v1/assignments", auth.RoleReceptionist, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created []Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created, 1)
	assert.Equal(t, "stat", created[0].Priority)
	assert.Equal(t, "CBC", created[0].TestCode)

	rec = do(e, http.MethodPost, "/api/v1/assignments/"+created[0].ID.String()+"/samples", auth.RoleLabTechnician, `{}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var smp Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &smp))
	assert.Equal(t, "A000001-01", smp.Code)

	rec = do(e, http.MethodGet, "/api/v1/samples/by-code/a000001-01", auth.RoleDoctor, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/v1/assignments/"+created[0].ID.String(), auth.RoleDoctor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, AssignmentCollected, got.Status)
	assert.Len(t, got.Samples, 1)
}

func TestHandler_AssignTests_Validation(t *testing.T) {
	e, env := newTestServer()
	tests := []string{
		`{"test_ids":["` + env.cbc.ID.String() + `"]}`,
		`{"patient_id":"` + env.patient.ID.String() + `","test_ids":[]}`,
		`{"patient_id":"` + env.patient.ID.String() + `","test_ids":["` + env.cbc.ID.String() + `"],"priority":"whenever"}`,
	}
	for _, body := range tests {
		rec := do(e, http.MethodPost, "/api/v1/assignments", auth.RoleReceptionist, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestHandler_RecordResult_BenchOnly(t *testing.T) {
	e, env := newTestServer()
	a := env.assign(t, env.cbc)[0]
	_, err := env.svc.CreateSample(t.Context(), a.ID, CreateSampleRequest{})
	require.NoError(t, err)

	path := "/api/v1/assignments/" + a.ID.String() + "/result"
	rec := do(e, http.MethodPost, path, auth.RoleReceptionist, `{"value":"5.1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, http.MethodPost, path, auth.RoleLabTechnician, `{"value":"5.1","unit":"g/dL"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, path, auth.RoleLabTechnician, `{"value":"5.2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}

func TestHandler_UpdateSampleStatus(t *testing.T) {
	e, env := newTestServer()
	a := env.assign(t, env.cbc)[0]
	smp, err := env.svc.CreateSample(t.Context(), a.ID, CreateSampleRequest{})
	require.NoError(t, err)
	path := "/api/v1/samples/" + smp.ID.String() + "/status"

	rec := do(e, http.MethodPut, path, auth.RoleLabTechnician, `{"status":"rejected"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPut, path, auth.RoleLabTechnician, `{"status":"rejected","reason":"insufficient volume"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, AssignmentPending, env.assignments.status(a.ID))
}

func TestHandler_ListAssignments(t *testing.T) {
	e, env := newTestServer()
	env.assign(t, env.cbc, env.urine)

	rec := do(e, http.MethodGet, "/api/v1/assignments?status=pending", auth.RoleLabTechnician, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp pagination.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	rec = do(e, http.MethodGet, "/api/v1/assignments?status=lost", auth.RoleLabTechnician, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/assignments?patient_id=nope", auth.RoleLabTechnician, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/assignments", auth.RoleAccountant, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_InvalidID(t *testing.T) {
	e, _ := newTestServer()
	rec := do(e, http.MethodGet, "/api/v1/samples/not-a-uuid", auth.RoleLabTechnician, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
