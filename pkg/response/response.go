package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"HibiscusSOS/pkg/errors"
)

// Body 统一响应结构
type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Fields  []string    `json:"fields,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: message, Data: data})
}

// Fail 失败响应，HTTP状态固定为400
func Fail(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusBadRequest, Body{Code: errors.CodeValidation, Message: message, Data: data})
}

// FailWithError 按错误码映射HTTP状态
func FailWithError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	body := Body{Code: code, Message: err.Error()}
	if e, ok := err.(*errors.Error); ok {
		body.Fields = e.FieldNames()
	}
	c.JSON(httpStatus(code), body)
}

func httpStatus(code int) int {
	switch code {
	case errors.CodeValidation, errors.CodeInvalidCoordinate:
		return http.StatusBadRequest
	case errors.CodeAuthRequired:
		return http.StatusUnauthorized
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeLocationUnavail:
		return http.StatusServiceUnavailable
	case errors.CodeConnectionFailed, errors.CodeSubmissionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
