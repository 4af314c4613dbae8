package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPagination_Defaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/blocks", nil)
	limit, offset := pagination(r)
	assert.Equal(t, defaultLimit, limit)
	assert.Equal(t, 0, offset)
}

func TestPagination_ExplicitValues(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/blocks?limit=5&offset=10", nil)
	limit, offset := pagination(r)
	assert.Equal(t, 5, limit)
	assert.Equal(t, 10, offset)
}

func TestPagination_ClampsAboveMax(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/blocks?limit=5000", nil)
	limit, _ := pagination(r)
	assert.Equal(t, maxLimit, limit)
}

func TestPagination_IgnoresInvalidValues(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/blocks?limit=-5&offset=abc", nil)
	limit, offset := pagination(r)
	assert.Equal(t, defaultLimit, limit)
	assert.Equal(t, 0, offset)
}
