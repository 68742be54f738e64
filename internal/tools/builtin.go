package tools

import (
	"context"
	"fmt"

	"github.com/opsboard/opsboard/internal/status"
)

// Echo returns its "text" argument unchanged.
type Echo struct{}

func (Echo) Name() string        { return "echo" }
func (Echo) Description() string { return "Returns the text argument unchanged" }

func (Echo) Call(_ context.Context, args map[string]any) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("missing string argument %q", "text")
	}
	return text, nil
}

// SystemInfo reports host and process statistics.
type SystemInfo struct {
	Collect func(context.Context) (status.HostStats, error)
}

func (SystemInfo) Name() string { return "system_info" }

func (SystemInfo) Description() string {
	return "Reports host CPU, memory, load and process statistics"
}

func (s SystemInfo) Call(ctx context.Context, _ map[string]any) (any, error) {
	collect := s.Collect
	if collect == nil {
		collect = status.Collect
	}
	stats, err := collect(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil && stats.SampledAt.IsZero() {
		return nil, err
	}
	// probe failures leave zero fields; a partial sample is still useful
	return stats, nil
}

// RegisterBuiltins adds the built-in tools to r. The file tools are confined
// to root, or the working directory when root is empty.
func RegisterBuiltins(r *Registry, root string) error {
	builtins := []Tool{
		Echo{},
		SystemInfo{},
		ReadFile{Root: root},
		ListDir{Root: root},
		HTTPGet{},
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
