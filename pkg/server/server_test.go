package server

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpoet/validator-gateway/pkg/tee"
)

func TestStatusClass(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{0, "200"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusClass(c.code))
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@b.com", normalizeEmail("  A@B.com  "))
	assert.Equal(t, "", normalizeEmail(""))
}

func newTestEnclave(t *testing.T) *tee.Enclave {
	t.Helper()
	e, err := tee.New("test-code-hash", "")
	require.NoError(t, err)
	return e
}

func TestAttestationHandlersServeWithoutADatabase(t *testing.T) {
	enclave := newTestEnclave(t)
	s := New(Deps{
		Enclave: enclave,
		Logger:  zerolog.Nop(),
	})
	router := s.Router()

	req := httptest.NewRequest("GET", "/attestation/pubkey", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), enclave.PublicKey())

	req = httptest.NewRequest("GET", "/attestation/document", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "attestation_document")

	req = httptest.NewRequest("GET", "/attestation/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "boot_id")
}

func TestMetricsEndpointUnconfiguredReturns503(t *testing.T) {
	s := New(Deps{Logger: zerolog.Nop()})
	router := s.Router()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, 503, rec.Code)
}
