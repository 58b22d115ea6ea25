package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMaskQuery(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"account=acc", "account=acc"},
		{"key=s3cret", "key=[MASKED]"},
		{"secret=hook-pass&account=acc", "secret=[MASKED]&account=acc"},
		{"KEY=s3cret", "KEY=[MASKED]"},
		{"key=a&lock=acc__t.json.taking&key=b", "key=[MASKED]&lock=acc__t.json.taking&key=[MASKED]"},
		{"flagonly&key=x", "flagonly&key=[MASKED]"},
	}
	for _, tc := range cases {
		if got := maskQuery(tc.in); got != tc.want {
			t.Errorf("maskQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactingLogger_PassesRequestsThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{HeaderSignature}}))
	r.GET("/tasks/claim", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/claim?key=s3cret&account=acc", nil)
	req.Header.Set(HeaderSignature, "sha256=deadbeef")
	req.Header.Set("Authorization", "Bearer tok")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("middleware altered the response: %d %q", w.Code, w.Body.String())
	}
}

func TestRedactingLogger_ErrorStatusesStillServed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/fail", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", w.Code)
	}
}
