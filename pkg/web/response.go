package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Response 管理接口的统一响应体，Data 在失败时省略
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: "ok", Data: data})
}

func Error(c *gin.Context, status, code int, message string) {
	c.JSON(status, Response{Code: code, Message: message})
}

// BindJSON 解析并校验请求体，返回 false 时 400 响应已写出
func BindJSON(c *gin.Context, obj any) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	msg := "malformed request body: " + err.Error()
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msg = verrs.Error()
	}
	Error(c, http.StatusBadRequest, CodeInvalidParams, msg)
	return false
}
