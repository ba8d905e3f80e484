package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

var errInvalidPayload = errors.New("invalid event payload")

// Target 是挂在 Fanout 上的一个具名投递目标。
type Target struct {
	Name string
	Sink claims.Sink
	// BestEffort 为 true 时投递失败只记录日志，不会导致账本回滚。
	BestEffort bool
}

// Fanout 将事件先投递给唯一的必需目标，成功后再依次投递尽力而为的目标。
// 必需目标一旦接受事件便无法撤回，因此最多只允许一个。
type Fanout struct {
	required *Target
	targets  []Target
	logger   *slog.Logger
}

var _ claims.Sink = (*Fanout)(nil)

// NewFanout 创建 Fanout，忽略空目标。存在多个必需目标时返回错误。
func NewFanout(targets ...Target) (*Fanout, error) {
	f := &Fanout{targets: make([]Target, 0, len(targets)), logger: logger.Named("events")}
	for _, target := range targets {
		if target.Sink == nil {
			continue
		}
		if !target.BestEffort {
			if f.required != nil {
				return nil, xerrors.New(xerrors.CodeInitializationFailure,
					"only one required event sink is allowed",
					xerrors.WithMetadata("required", f.required.Name),
					xerrors.WithMetadata("rejected", target.Name))
			}
			required := target
			f.required = &required
		}
		f.targets = append(f.targets, target)
	}
	return f, nil
}

// Deposit 投递必需目标，失败时直接返回，尽力而为的目标不会看到该事件。
func (f *Fanout) Deposit(ctx context.Context, event claims.Event) error {
	if f == nil {
		return nil
	}
	if f.required != nil {
		if err := f.required.Sink.Deposit(ctx, event); err != nil {
			return xerrors.Wrap(xerrors.CodeEventDelivery, fmt.Errorf("sink %s: %w", f.required.Name, err), "",
				xerrors.WithMetadata("event_id", event.ID))
		}
	}
	for _, target := range f.targets {
		if !target.BestEffort {
			continue
		}
		if err := target.Sink.Deposit(ctx, event); err != nil {
			f.logger.WarnContext(ctx, "事件投递失败",
				slog.String("sink", target.Name),
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// Required 返回必需目标的名称，没有必需目标时为空。
func (f *Fanout) Required() string {
	if f == nil || f.required == nil {
		return ""
	}
	return f.required.Name
}

// Names 返回已注册目标的名称。
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.targets))
	for _, target := range f.targets {
		names = append(names, target.Name)
	}
	return names
}
