// Package logx is a small structured logging facade over zerolog.
//
// Components receive a Logger value (cheap to copy) and tag themselves with
// With(logx.String("comp", ...)). The backing Service supports hot-reloading
// level and sinks without invalidating loggers already handed out.
package logx
