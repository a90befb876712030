package thermal

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptcchamber/chamberlab/server"
)

type fakeController struct {
	setpt  float64
	temp   float64
	forced bool
	fail   bool
}

func (f *fakeController) GetTemperatureSetpoint() (float64, error) { return f.setpt, nil }
func (f *fakeController) GetTemperature() (float64, error)         { return f.temp, nil }
func (f *fakeController) SetTemperatureSetpoint(v float64) error {
	if f.fail {
		return errors.New("setpoint rejected")
	}
	f.setpt = v
	return nil
}

type forcingController struct{ fakeController }

func (f *forcingController) GetForcedCooling() (bool, error) { return f.forced, nil }
func (f *forcingController) SetForcedCooling(b bool) error   { f.forced = b; return nil }

func mux(c Controller) http.Handler {
	r := chi.NewRouter()
	NewHTTPThermal(c).RT().Bind(r)
	return r
}

func TestSetpointRoundTrip(t *testing.T) {
	c := &fakeController{setpt: 20, temp: 24.5}
	r := mux(c)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/temperature-setpoint", strings.NewReader(`{"f64":48}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 48.0, c.setpt)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/temperature", nil))
	var f server.FloatT
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&f))
	assert.Equal(t, 24.5, f.F64)
}

func TestSetpointErrors(t *testing.T) {
	c := &fakeController{fail: true}
	r := mux(c)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/temperature-setpoint", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/temperature-setpoint", strings.NewReader(`{"f64":1}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestForcedCoolingOnlyWhenSupported(t *testing.T) {
	assert.NotContains(t, NewHTTPThermal(&fakeController{}).RT().Endpoints(), "/forced-cooling")

	c := &forcingController{}
	assert.Contains(t, NewHTTPThermal(c).RT().Endpoints(), "/forced-cooling")
	rec := httptest.NewRecorder()
	mux(c).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/forced-cooling", strings.NewReader(`{"bool":true}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, c.forced)
}
