package api

import (
	"errors"
	"fmt"
)

// TransportError 表示网络层面的失败（不可达、超时），与格式良好的
// 服务端错误载荷严格区分：前者触发降级回退，后者原样透出给用户。
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError 表示服务端返回的结构化错误，Message 来自响应载荷，
// 可为空（此时调用方应展示通用失败文案）。
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server error: status %d", e.Status)
}

// IsTransport 判断错误是否属于网络失败。
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsServer 提取服务端错误，不匹配时返回 nil。
func AsServer(err error) *ServerError {
	var se *ServerError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
