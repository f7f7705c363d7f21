package delivery

import "log/slog"

// Option configures a delivery backend.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the backend logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
