package port

import (
	"context"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/pkg/deviceconfig"
)

type SessionFactory interface {
	Open(ctx context.Context, conn domain.ConnectionFields) (DeviceSession, error)
}

// DeviceSession is a live connection to one device.
// InferType returns "" when the device type could not be determined.
type DeviceSession interface {
	InferType(ctx context.Context) (string, error)
	Close() error
}

type TypeResolver interface {
	Resolve(typeId string) (*deviceconfig.DeviceConfig, error)
}
