package sensor

import "context"

// Device opens GATT connections to peripherals.
type Device interface {
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn is one open connection. Characteristics are addressed by UUID.
type Conn interface {
	Write(ctx context.Context, char string, p []byte) error
	Read(ctx context.Context, char string) ([]byte, error)
	Close() error
}
