package response

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"sproutmarket/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
	CodeExternal     = 502
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Field   string      `json:"field,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PageData 分页列表
type PageData struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusBadRequest,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindForbidden:    http.StatusForbidden,
	apperr.KindUnauthorized: http.StatusUnauthorized,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindInvalidState: http.StatusConflict,
	apperr.KindExternal:     http.StatusBadGateway,
	apperr.KindInternal:     http.StatusInternalServerError,
}

// StatusOf 业务错误分类对应的 HTTP 状态码
func StatusOf(kind apperr.Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Page(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	Success(c, PageData{Items: items, Total: total, Page: page, PageSize: pageSize})
}

func Error(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    status,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
		Error:   string(apperr.KindUnauthorized),
	})
}

// Fail 按错误分类输出，内部错误不向调用方暴露细节
func Fail(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		BindError(c, verrs)
		return
	}

	e, ok := apperr.As(err)
	if !ok {
		log.Printf("[HTTP] %s %s 内部错误: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
			Code:    CodeServerError,
			Message: "服务器内部错误",
			Error:   string(apperr.KindInternal),
		})
		return
	}

	status := StatusOf(e.Kind)
	msg := e.Message
	switch e.Kind {
	case apperr.KindExternal:
		log.Printf("[HTTP] %s %s 外部服务错误: %v", c.Request.Method, c.FullPath(), err)
	case apperr.KindInternal:
		log.Printf("[HTTP] %s %s 内部错误: %v", c.Request.Method, c.FullPath(), err)
		msg = "服务器内部错误"
	}

	resp := Response{
		Code:    status,
		Message: msg,
		Error:   e.Code,
		Field:   e.Field,
	}
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	c.AbortWithStatusJSON(status, resp)
}

// BindError 请求绑定失败；校验错误按字段展开
func BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{
			Code:    CodeParamError,
			Message: "请求参数格式错误: " + err.Error(),
			Error:   string(apperr.KindValidation),
		})
		return
	}

	fields := make(map[string]interface{}, len(verrs))
	first := ""
	for _, fe := range verrs {
		name := fieldName(fe)
		if first == "" {
			first = name
		}
		fields[name] = describe(fe)
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{
		Code:    CodeParamError,
		Message: "请求参数校验失败",
		Error:   string(apperr.KindValidation),
		Field:   first,
		Details: fields,
	})
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必填"
	case "min", "gte":
		return "不能小于 " + fe.Param()
	case "max", "lte":
		return "不能大于 " + fe.Param()
	case "oneof":
		return "只能是 " + fe.Param() + " 之一"
	case "email":
		return "邮箱格式不正确"
	case "gt":
		return "必须大于 " + fe.Param()
	}
	return "校验未通过: " + fe.Tag()
}
