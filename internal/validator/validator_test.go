package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-examroom/internal/model"
)

func bindJoin(t *testing.T, body string) map[string]string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	Setup()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var req model.JoinSessionRequest
	return Bind(c, &req)
}

func TestBindJoinRequest(t *testing.T) {
	assert.Nil(t, bindJoin(t, `{"exam_code":" fis-101 ","student_name":"Ani"}`))

	fields := bindJoin(t, `{"exam_code":"fis 101!","student_name":"Ani"}`)
	require.Contains(t, fields, "exam_code")
	assert.Contains(t, fields["exam_code"], "letters, digits and dashes")

	fields = bindJoin(t, `{"exam_code":"FIS101"}`)
	assert.Contains(t, fields, "student_name")

	fields = bindJoin(t, `{not json`)
	assert.Contains(t, fields, "detail")
}
