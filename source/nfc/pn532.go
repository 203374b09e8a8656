package nfc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
  ErrInvalidFrame = errors.New("invalid frame")
  ErrChecksumMismatch = errors.New("checksum mismatch")
  // ErrNoTarget means the polling window elapsed without a tag in the field.
  // This is the normal "nothing there" outcome, not a reader failure.
  ErrNoTarget = errors.New("no target in field")
)

const (
  frameIdHostToDevice = 0xd4
  frameIdDeviceToHost = 0xd5

  cmdGetFirmwareVersion = 0x02
  cmdSAMConfiguration = 0x14
  cmdRFConfiguration = 0x32
  cmdInListPassiveTarget = 0x4a

  // RFConfiguration item selecting MaxRtyPassiveActivation. Bounds how long
  // InListPassiveTarget keeps retrying before reporting zero targets.
  rfItemMaxRetries = 0x05

  // ISO14443A at 106 kbps, the only card type the original tags use.
  baudRateTypeA = 0x00

  maxFrameLength = 64
)

// link moves raw bytes to and from a PN532 and signals frame availability.
// The real implementation talks i2c-dev; tests supply a scripted fake.
type link interface {
  Write(p []byte) error
  // Read fills p with a status byte followed by frame bytes.
  Read(p []byte) (int, error)
  WaitReady(ctx context.Context) error
  Close() error
}

// buildCommand wraps a command and its arguments into a full wire frame:
// preamble, length + length checksum, TFI, data checksum, postamble.
func buildCommand(cmd byte, args []byte) []byte {
  data := make([]byte, 0, len(args) + 2)
  data = append(data, frameIdHostToDevice, cmd)
  data = append(data, args...)

  frame := make([]byte, 0, len(data) + 7)
  frame = append(frame, 0x00, 0x00, 0xff)
  frame = append(frame, byte(len(data)), byte(0x100 - len(data)))
  frame = append(frame, data...)

  var sum byte

  for _, b := range data {
    sum += b
  }

  frame = append(frame, byte(0x100 - int(sum)), 0x00)

  return frame
}

// parseFrame extracts and validates the data bytes (TFI included) from a raw
// frame, tolerating leading padding as seen on the i2c transport.
func parseFrame(raw []byte) ([]byte, error) {
  start := -1

  for i := 0; i + 1 < len(raw); i += 1 {
    if raw[i] == 0x00 && raw[i + 1] == 0xff {
      start = i + 2
      break
    }
  }

  if start < 0 || start + 2 > len(raw) {
    return nil, pkgerrors.Wrap(ErrInvalidFrame, "start code not found")
  }

  length := int(raw[start])
  lengthChecksum := raw[start + 1]

  if byte(length) + lengthChecksum != 0 {
    return nil, pkgerrors.Wrapf(ErrChecksumMismatch,
      "length checksum (len=%#x, lcs=%#x)", length, lengthChecksum)
  }

  if start + 2 + length + 1 > len(raw) {
    return nil, pkgerrors.Wrapf(ErrInvalidFrame,
      "frame truncated (want %d data bytes)", length)
  }

  data := raw[start + 2 : start + 2 + length]

  var sum byte

  for _, b := range data {
    sum += b
  }

  if sum + raw[start + 2 + length] != 0 {
    return nil, pkgerrors.Wrap(ErrChecksumMismatch, "data checksum")
  }

  if length == 0 {
    return nil, pkgerrors.Wrap(ErrInvalidFrame, "empty frame")
  }

  return data, nil
}

// isAck reports whether raw contains the fixed PN532 ACK frame.
func isAck(raw []byte) bool {
  for i := 0; i + 3 < len(raw); i += 1 {
    if raw[i] == 0x00 && raw[i + 1] == 0xff && raw[i + 2] == 0x00 && raw[i + 3] == 0xff {
      return true
    }
  }

  return false
}

// Device drives a PN532 NFC module over an established link.
type Device struct {
  link link
}

func NewDevice(l link) *Device {
  return &Device{link: l}
}

func (d *Device) Close() error {
  return d.link.Close()
}

// Configure checks the module is alive and puts it in normal SAM mode with a
// bounded passive activation retry count, so that polls with no tag in the
// field return promptly instead of blocking forever.
func (d *Device) Configure(ctx context.Context) error {
  version, err := d.call(ctx, cmdGetFirmwareVersion, nil)

  if err != nil {
    return fmt.Errorf("failed to read firmware version: %w", err)
  }

  if len(version) >= 3 {
    log.Info().
      Int("IC", int(version[0])).
      Str("Firmware", fmt.Sprintf("%d.%d", version[1], version[2])).
      Msg("nfc: PN532 module detected")
  }

  // normal mode, 1s virtual card timeout (0x14 * 50ms), use IRQ pin.
  if _, err := d.call(ctx, cmdSAMConfiguration, []byte{0x01, 0x14, 0x01}); err != nil {
    return fmt.Errorf("failed to configure SAM: %w", err)
  }

  // MxRtyPassiveActivation = 0x10: give up after a handful of attempts.
  if _, err := d.call(ctx, cmdRFConfiguration, []byte{rfItemMaxRetries, 0xff, 0x01, 0x10}); err != nil {
    return fmt.Errorf("failed to bound passive activation retries: %w", err)
  }

  return nil
}

// ReadPassiveTarget polls for a single ISO14443A tag and returns its UID, or
// ErrNoTarget when nothing entered the field within the retry window.
func (d *Device) ReadPassiveTarget(ctx context.Context) ([]byte, error) {
  res, err := d.call(ctx, cmdInListPassiveTarget, []byte{0x01, baudRateTypeA})

  if err != nil {
    return nil, err
  }

  // [NbTg] [Tg] [SENS_RES x2] [SEL_RES] [NFCIDLength] [UID...]
  if len(res) < 1 {
    return nil, pkgerrors.Wrap(ErrInvalidFrame, "empty InListPassiveTarget response")
  }

  if res[0] == 0 {
    return nil, ErrNoTarget
  }

  if len(res) < 6 {
    return nil, pkgerrors.Wrapf(ErrInvalidFrame,
      "target data has insufficient length: %v", res)
  }

  uidLength := int(res[5])

  if uidLength == 0 || len(res) < 6 + uidLength {
    return nil, pkgerrors.Wrapf(ErrInvalidFrame,
      "target UID length %d does not fit response of %d bytes", uidLength, len(res))
  }

  uid := make([]byte, uidLength)
  copy(uid, res[6:6 + uidLength])

  log.Trace().
    Str("UID", hex.EncodeToString(uid)).
    Msg("nfc: tag in field")

  return uid, nil
}

// call performs one command round-trip: write, wait for and consume the ACK,
// wait for and parse the response frame.
func (d *Device) call(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
  if err := d.link.Write(buildCommand(cmd, args)); err != nil {
    return nil, fmt.Errorf("failed to write command %#x: %w", cmd, err)
  }

  if err := d.link.WaitReady(ctx); err != nil {
    return nil, fmt.Errorf("timed out waiting for ACK of command %#x: %w", cmd, err)
  }

  buf := make([]byte, 8)

  if _, err := d.link.Read(buf); err != nil {
    return nil, fmt.Errorf("failed to read ACK of command %#x: %w", cmd, err)
  }

  // the first byte on i2c is the status byte, skip it.
  if !isAck(buf[1:]) {
    return nil, pkgerrors.Wrapf(ErrInvalidFrame, "command %#x was not acknowledged", cmd)
  }

  if err := d.link.WaitReady(ctx); err != nil {
    return nil, fmt.Errorf("timed out waiting for response to command %#x: %w", cmd, err)
  }

  buf = make([]byte, maxFrameLength)
  n, err := d.link.Read(buf)

  if err != nil {
    return nil, fmt.Errorf("failed to read response to command %#x: %w", cmd, err)
  }

  data, err := parseFrame(buf[1:n])

  if err != nil {
    return nil, err
  }

  if len(data) < 2 || data[0] != frameIdDeviceToHost || data[1] != cmd + 1 {
    return nil, pkgerrors.Wrapf(ErrInvalidFrame,
      "unexpected response %v to command %#x", data, cmd)
  }

  return data[2:], nil
}
