package port

import (
	"context"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
)

type PlatformForwarder interface {
	ForwardEntrySetup(ctx context.Context, entry *domain.ConfigEntry, platform domain.Platform) error
	ForwardEntryUnload(ctx context.Context, entry *domain.ConfigEntry, platform domain.Platform) error
}
