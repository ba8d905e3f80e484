// Package metrics 以 Prometheus 文本格式暴露 HTTP 与账本调用的计数和耗时。
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

type histogram struct {
	counts []uint64
	sum    float64
	count  uint64
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range defaultBuckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

// family 保存同一指标名下按标签值区分的计数器或直方图。
type family struct {
	name     string
	help     string
	labels   []string
	counters map[string]uint64
	hists    map[string]*histogram
}

func newCounter(name, help string, labels ...string) *family {
	return &family{name: name, help: help, labels: labels, counters: make(map[string]uint64)}
}

func newHistogram(name, help string, labels ...string) *family {
	return &family{name: name, help: help, labels: labels, hists: make(map[string]*histogram)}
}

func (f *family) key(values []string) string {
	parts := make([]string, len(f.labels))
	for i, label := range f.labels {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		parts[i] = fmt.Sprintf("%s=\"%s\"", label, escape(value))
	}
	return strings.Join(parts, ",")
}

// Registry 汇总一组指标族。
type Registry struct {
	mu sync.Mutex

	httpRequests *family
	httpErrors   *family
	httpLatency  *family
	claimCalls   *family
	claimLatency *family
}

// NewRegistry 创建一个空的指标注册表。
func NewRegistry() *Registry {
	return &Registry{
		httpRequests: newCounter("poe_http_requests_total", "Total number of HTTP requests processed.", "handler", "method", "code"),
		httpErrors:   newCounter("poe_http_request_errors_total", "Total number of HTTP requests that resulted in a server error.", "handler", "method"),
		httpLatency:  newHistogram("poe_http_request_duration_seconds", "HTTP request duration in seconds.", "handler", "method"),
		claimCalls:   newCounter("poe_claim_operations_total", "Ledger calls by call name and result code.", "call", "code"),
		claimLatency: newHistogram("poe_claim_operation_duration_seconds", "Ledger call duration in seconds.", "call"),
	}
}

var defaultRegistry = NewRegistry()

// Default 返回进程级的指标注册表。
func Default() *Registry { return defaultRegistry }

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultRegistry.ObserveHTTPRequest(handler, method, status, duration)
}

// ObserveClaimOperation 记录一次账本调用，code 为 "OK" 或错误码。
func ObserveClaimOperation(call, code string, duration time.Duration) {
	defaultRegistry.ObserveClaimOperation(call, code, duration)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.httpRequests.counters[r.httpRequests.key([]string{handler, method, strconv.Itoa(status)})]++
	if status >= 500 {
		r.httpErrors.counters[r.httpErrors.key([]string{handler, method})]++
	}
	r.observe(r.httpLatency, []string{handler, method}, duration)
}

// ObserveClaimOperation 记录一次账本调用。
func (r *Registry) ObserveClaimOperation(call, code string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls.counters[r.claimCalls.key([]string{call, code})]++
	r.observe(r.claimLatency, []string{call}, duration)
}

func (r *Registry) observe(f *family, values []string, duration time.Duration) {
	key := f.key(values)
	hist := f.hists[key]
	if hist == nil {
		hist = &histogram{counts: make([]uint64, len(defaultBuckets))}
		f.hists[key] = hist
	}
	hist.observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, r.Render())
	})
}

// Handler 暴露默认注册表。
func Handler() http.Handler { return defaultRegistry.Handler() }

// Render 返回当前全部指标的文本表示，标签按字典序排列。
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, f := range []*family{r.httpRequests, r.httpErrors, r.claimCalls} {
		writeCounter(&b, f)
	}
	for _, f := range []*family{r.httpLatency, r.claimLatency} {
		writeHistogram(&b, f)
	}
	return b.String()
}

func writeCounter(b *strings.Builder, f *family) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", f.name, f.help, f.name)
	for _, key := range sortedKeys(f.counters) {
		fmt.Fprintf(b, "%s{%s} %d\n", f.name, key, f.counters[key])
	}
}

func writeHistogram(b *strings.Builder, f *family) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", f.name, f.help, f.name)
	for _, key := range sortedKeys(f.hists) {
		hist := f.hists[key]
		for idx, bound := range defaultBuckets {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", f.name, key, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", f.name, key, hist.count)
		fmt.Fprintf(b, "%s_sum{%s} %s\n", f.name, key, formatFloat(hist.sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", f.name, key, hist.count)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
