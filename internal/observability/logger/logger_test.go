package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM accounts WHERE id = ? FOR UPDATE":        "SELECT",
		"  insert into ledger_transactions (id) values (?)":     "INSERT",
		"WITH due AS (SELECT id FROM invoices) UPDATE invoices": "SELECT",
		"":                                    "UNKNOWN",
		"CREATE TABLE IF NOT EXISTS accounts": "UNKNOWN",
	}
	for sql, want := range cases {
		require.Equal(t, want, operationFromSQL(sql), sql)
	}
}

func TestParseGormLevel(t *testing.T) {
	require.Equal(t, gormlogger.Silent, ParseGormLevel("silent"))
	require.Equal(t, gormlogger.Info, ParseGormLevel("DEBUG"))
	require.Equal(t, gormlogger.Warn, ParseGormLevel(""))
}

func TestGinMiddlewareEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
