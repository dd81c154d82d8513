package dto

import "net/http"

type BaseResponse struct {
	Code      int         `json:"code"`
	ErrorCode string      `json:"error_code,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

func NewBaseResponse(code int, message string, data interface{}) *BaseResponse {
	return &BaseResponse{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// NewErrorResponse carries the stable reason code alongside the HTTP status
// so clients can branch on it without parsing the message.
func NewErrorResponse(status int, errorCode ErrorCode, message string) *BaseResponse {
	return &BaseResponse{
		Code:      status,
		ErrorCode: string(errorCode),
		Message:   message,
	}
}

func NewBadRequestResponse(message string) *BaseResponse {
	return NewBaseResponse(http.StatusBadRequest, message, nil)
}

func NewSuccessResponse(message string, data interface{}) *BaseResponse {
	return NewBaseResponse(http.StatusOK, message, data)
}
