// Package errors 提供 PoE 账本统一的错误码、严重程度与 HTTP 映射。
//
// 业务包在 init 中通过 Register 为自己的错误码登记默认属性，
// API 层只依据错误码决定状态码，交易处理器依据 Retryable 决定是否重试。
package errors

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message    string
	Severity   Severity
	Retryable  bool
	HTTPStatus int
}

// 通用错误码。领域错误码由各业务包自行注册。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeClockFailure          Code = "CLOCK_FAILURE"
	CodeEventDelivery         Code = "EVENT_DELIVERY_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

var registry = struct {
	sync.RWMutex
	attrs map[Code]Attributes
}{attrs: make(map[Code]Attributes)}

func init() {
	client := func(message string, status int) Attributes {
		return Attributes{Message: message, Severity: SeverityInfo, HTTPStatus: status}
	}
	// 基础设施类错误都允许重试。
	infra := func(message string, severity Severity, status int) Attributes {
		return Attributes{Message: message, Severity: severity, Retryable: true, HTTPStatus: status}
	}

	Register(CodeUnknown, Attributes{Message: "unknown error", Severity: SeverityCritical, HTTPStatus: http.StatusInternalServerError})
	Register(CodeInvalidArgument, client("invalid argument", http.StatusBadRequest))
	Register(CodeNotFound, client("resource not found", http.StatusNotFound))
	Register(CodeConflict, Attributes{Message: "resource conflict", Severity: SeverityWarning, HTTPStatus: http.StatusConflict})
	Register(CodeUnauthenticated, client("caller not authenticated", http.StatusUnauthorized))
	Register(CodePermissionDenied, client("permission denied", http.StatusForbidden))
	Register(CodeRateLimited, Attributes{Message: "too many requests", Severity: SeverityInfo, Retryable: true, HTTPStatus: http.StatusTooManyRequests})
	Register(CodeInitializationFailure, infra("service not initialized", SeverityWarning, http.StatusServiceUnavailable))
	Register(CodeStorageFailure, infra("storage failure", SeverityCritical, http.StatusInternalServerError))
	Register(CodeClockFailure, infra("block height unavailable", SeverityCritical, http.StatusServiceUnavailable))
	Register(CodeEventDelivery, infra("event delivery failed", SeverityCritical, http.StatusServiceUnavailable))
	Register(CodeQueueFailure, infra("queue failure", SeverityCritical, http.StatusServiceUnavailable))
	Register(CodeTimeout, infra("operation timed out", SeverityWarning, http.StatusGatewayTimeout))
}

// Register 登记错误码的默认属性，重复登记时覆盖旧值。未指定状态码时按 500 处理。
func Register(code Code, attr Attributes) {
	if attr.HTTPStatus == 0 {
		attr.HTTPStatus = http.StatusInternalServerError
	}
	if attr.Severity == "" {
		attr.Severity = SeverityWarning
	}
	registry.Lock()
	registry.attrs[code] = attr
	registry.Unlock()
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registry.RLock()
	defer registry.RUnlock()
	if attr, ok := registry.attrs[code]; ok {
		return attr
	}
	return registry.attrs[CodeUnknown]
}

// Codes 返回已注册的全部错误码，按字母序排列。
func Codes() []Code {
	registry.RLock()
	codes := make([]Code, 0, len(registry.attrs))
	for code := range registry.attrs {
		codes = append(codes, code)
	}
	registry.RUnlock()
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

type pair struct{ key, value string }

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  []pair
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，同名键以最后一次为准。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		for i := range e.metadata {
			if e.metadata[i].key == key {
				e.metadata[i].value = value
				return
			}
		}
		e.metadata = append(e.metadata, pair{key: key, value: value})
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.severity = &sev }
}

// New 创建一个新的错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// FromContext 将 context 的取消或超时转换为 TIMEOUT，其他错误原样返回。
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeTimeout, err, "")
	}
	return err
}

// Error 实现 error 接口，格式为 "[CODE] message: cause"。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.code))
	b.WriteString("] ")
	b.WriteString(e.message)
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	return ok && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息，不含底层原因。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for _, p := range e.metadata {
		out[p.key] = p.value
	}
	return out
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// LogValue 实现 slog.LogValuer，使日志中的错误带上错误码与附加信息。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	for _, p := range e.metadata {
		attrs = append(attrs, slog.String(p.key, p.value))
	}
	return slog.GroupValue(attrs...)
}

// From 尝试从 error 链中取出统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码，非统一错误返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。未分类的错误一律视为不可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// HTTPStatus 返回错误码对应的 HTTP 状态码。
func HTTPStatus(code Code) int {
	return AttributesOf(code).HTTPStatus
}

// StatusOf 返回任意 error 对应的 HTTP 状态码。
func StatusOf(err error) int {
	return HTTPStatus(CodeOf(err))
}
