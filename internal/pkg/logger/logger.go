// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// base 是进程级的根 logger，Init 之前使用一个合理的默认值
var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Options 控制日志输出
type Options struct {
	Level   string // debug / info / warn / error
	Format  string // json / console
	Service string
}

// Init 根据配置初始化全局 logger。
func Init(opts Options) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if opts.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	base = ctx.Logger()
}

// SetOutput 替换输出目标，测试里用来收集日志
func SetOutput(w io.Writer) {
	base = base.Output(w)
}

// L 返回不带链路信息的根 logger
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回一个带有 trace_id / span_id 的 logger，
// 这样日志和 Jaeger 里的链路可以直接关联起来。
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &base
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
