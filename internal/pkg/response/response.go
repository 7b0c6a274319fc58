// Package response writes the {code, msg, data} envelope used by every API
// endpoint. Code 0 is success; failures carry an errcode value.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type apiError struct {
	code uint32
	msg  string
}

func (e *apiError) Error() string { return e.msg }

func (e *apiError) Code() uint32 { return e.code }

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error always answers with HTTP 200; clients branch on the envelope code.
func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, http.StatusOK, &apiError{code: uint32(code), msg: message})
}
