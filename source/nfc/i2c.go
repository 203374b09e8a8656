package nfc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

const (
  // Fixed i2c address of the PN532.
  DefaultI2CAddress = 0x24

  // ioctl selecting the peer address on an i2c-dev fd.
  i2cSlave = 0x0703

  // First byte of every i2c read: bit 0 set means a frame is waiting.
  statusReady = 0x01

  readyPollInterval = 10 * time.Millisecond
  readyTimeout = 2 * time.Second
)

// i2cLink talks to a PN532 over Linux i2c-dev. When an IRQ line is supplied
// readiness is event-driven; otherwise the status byte is polled.
type i2cLink struct {
  fd int
  irq *gpiocdev.Line
  irqEvents chan struct{}
}

type IRQConfig struct {
  Chip string // e.g. "gpiochip0"
  Line int
}

func openI2C(bus int, addr int, irq *IRQConfig) (*i2cLink, error) {
  path := fmt.Sprintf("/dev/i2c-%d", bus)

  fd, err := unix.Open(path, unix.O_RDWR, 0)

  if err != nil {
    return nil, fmt.Errorf("failed to open %v: %w", path, err)
  }

  if err := unix.IoctlSetInt(fd, i2cSlave, addr); err != nil {
    unix.Close(fd)
    return nil, fmt.Errorf("failed to select i2c address %#x on %v: %w", addr, path, err)
  }

  l := &i2cLink{fd: fd}

  if irq != nil {
    // buffered so the event handler never blocks the gpiocdev event loop.
    l.irqEvents = make(chan struct{}, 4)

    line, err := gpiocdev.RequestLine(irq.Chip, irq.Line,
      gpiocdev.AsInput,
      gpiocdev.WithPullUp,
      gpiocdev.WithFallingEdge,
      gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
        select {
        case l.irqEvents <- struct{}{}:
        default:
        }
      }),
    )

    if err != nil {
      unix.Close(fd)
      return nil, fmt.Errorf("failed to request IRQ line %v:%d: %w", irq.Chip, irq.Line, err)
    }

    l.irq = line

    log.Debug().
      Str("Chip", irq.Chip).
      Int("Line", irq.Line).
      Msg("nfc: using IRQ line for read readiness")
  }

  return l, nil
}

func (l *i2cLink) Write(p []byte) error {
  n, err := unix.Write(l.fd, p)

  if err != nil {
    return err
  }

  if n != len(p) {
    return fmt.Errorf("short i2c write: %d of %d bytes", n, len(p))
  }

  return nil
}

func (l *i2cLink) Read(p []byte) (int, error) {
  return unix.Read(l.fd, p)
}

func (l *i2cLink) WaitReady(ctx context.Context) error {
  ctx, cancel := context.WithTimeout(ctx, readyTimeout)
  defer cancel()

  if l.irq != nil {
    select {
    case <-l.irqEvents:
      return nil
    case <-ctx.Done():
      return ctx.Err()
    }
  }

  // no IRQ line: poll the status byte.
  for {
    status := make([]byte, 1)

    if _, err := unix.Read(l.fd, status); err == nil && status[0] & statusReady == statusReady {
      return nil
    }

    select {
    case <-ctx.Done():
      return ctx.Err()
    case <-time.After(readyPollInterval):
    }
  }
}

func (l *i2cLink) Close() error {
  if l.irq != nil {
    l.irq.Close()
  }

  return unix.Close(l.fd)
}
