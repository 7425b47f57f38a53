package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(apiKey))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	testCases := []struct {
		name           string
		configuredKey  string
		header         string
		query          string
		expectedStatus int
	}{
		{
			name:           "disabled when no key configured",
			configuredKey:  "",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing key",
			configuredKey:  "secret",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong key",
			configuredKey:  "secret",
			header:         "nope",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "valid header",
			configuredKey:  "secret",
			header:         "secret",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid query fallback",
			configuredKey:  "secret",
			query:          "secret",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "header takes precedence over query",
			configuredKey:  "secret",
			header:         "nope",
			query:          "secret",
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(tc.configuredKey)

			url := "/ping"
			if tc.query != "" {
				url += "?api_key=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("X-API-Key", tc.header)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.expectedStatus, w.Code)
		})
	}
}
