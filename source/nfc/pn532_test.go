package nfc

import (
  "bytes"
  "context"
  "errors"
  "testing"
)

// deviceFrame wraps response data (TFI included) into a full PN532 frame
// prefixed with the i2c ready status byte.
func deviceFrame(data []byte) []byte {
  frame := []byte{0x01, 0x00, 0x00, 0xff, byte(len(data)), byte(0x100 - len(data))}
  frame = append(frame, data...)

  var sum byte

  for _, b := range data {
    sum += b
  }

  return append(frame, byte(0x100 - int(sum)), 0x00)
}

var ackFrame = []byte{0x01, 0x00, 0x00, 0xff, 0x00, 0xff, 0x00}

type fakeLink struct {
  writes [][]byte
  reads [][]byte
}

func (f *fakeLink) Write(p []byte) error {
  f.writes = append(f.writes, append([]byte(nil), p...))
  return nil
}

func (f *fakeLink) Read(p []byte) (int, error) {
  if len(f.reads) == 0 {
    return 0, errors.New("no scripted read left")
  }

  next := f.reads[0]
  f.reads = f.reads[1:]

  return copy(p, next), nil
}

func (f *fakeLink) WaitReady(ctx context.Context) error {
  return nil
}

func (f *fakeLink) Close() error {
  return nil
}

func TestBuildCommandFraming(t *testing.T) {
  got := buildCommand(cmdInListPassiveTarget, []byte{0x01, baudRateTypeA})

  want := []byte{
    0x00, 0x00, 0xff, // preamble + start code
    0x04, 0xfc,       // length, length checksum
    0xd4, 0x4a, 0x01, 0x00,
    0xe1, 0x00,       // data checksum, postamble
  }

  if !bytes.Equal(got, want) {
    t.Fatalf("buildCommand: got % x, wanted % x", got, want)
  }
}

func TestParseFrameRoundTrip(t *testing.T) {
  data := []byte{0xd5, 0x03, 0x32, 0x01, 0x06, 0x07}
  raw := deviceFrame(data)[1:] // strip the status byte like Device.call does

  got, err := parseFrame(raw)

  if err != nil {
    t.Fatalf("parseFrame(% x) got error: %v", raw, err)
  }

  if !bytes.Equal(got, data) {
    t.Fatalf("parseFrame: got % x, wanted % x", got, data)
  }
}

func TestParseFrameRejectsBadDataChecksum(t *testing.T) {
  raw := deviceFrame([]byte{0xd5, 0x03, 0x32})[1:]
  raw[len(raw) - 2] += 1 // corrupt the DCS

  if _, err := parseFrame(raw); !errors.Is(err, ErrChecksumMismatch) {
    t.Fatalf("got %v, wanted ErrChecksumMismatch", err)
  }
}

func TestParseFrameRejectsBadLengthChecksum(t *testing.T) {
  raw := deviceFrame([]byte{0xd5, 0x03, 0x32})[1:]
  raw[3] += 1 // corrupt the length field

  if _, err := parseFrame(raw); !errors.Is(err, ErrChecksumMismatch) {
    t.Fatalf("got %v, wanted ErrChecksumMismatch", err)
  }
}

func TestParseFrameRejectsTruncatedFrame(t *testing.T) {
  raw := deviceFrame([]byte{0xd5, 0x03, 0x32, 0x01, 0x06, 0x07})[1:]

  if _, err := parseFrame(raw[:6]); !errors.Is(err, ErrInvalidFrame) {
    t.Fatalf("got %v, wanted ErrInvalidFrame", err)
  }
}

func TestParseFrameRejectsGarbage(t *testing.T) {
  if _, err := parseFrame([]byte{0x13, 0x37}); !errors.Is(err, ErrInvalidFrame) {
    t.Fatalf("got %v, wanted ErrInvalidFrame", err)
  }
}

func TestIsAck(t *testing.T) {
  if !isAck(ackFrame[1:]) {
    t.Fatal("canonical ACK frame not recognized")
  }

  if isAck(deviceFrame([]byte{0xd5, 0x15})[1:]) {
    t.Fatal("regular response frame recognized as ACK")
  }
}

func TestReadPassiveTargetReturnsUID(t *testing.T) {
  uid := []byte{0x04, 0xa2, 0x24, 0xd2}

  link := &fakeLink{
    reads: [][]byte{
      ackFrame,
      // NbTg, Tg, SENS_RES, SEL_RES, NFCIDLength, UID
      deviceFrame(append([]byte{0xd5, 0x4b, 0x01, 0x01, 0x00, 0x04, 0x08, 0x04}, uid...)),
    },
  }

  dev := NewDevice(link)
  got, err := dev.ReadPassiveTarget(context.Background())

  if err != nil {
    t.Fatalf("ReadPassiveTarget got error: %v", err)
  }

  if !bytes.Equal(got, uid) {
    t.Fatalf("ReadPassiveTarget: got % x, wanted % x", got, uid)
  }

  if len(link.writes) != 1 {
    t.Fatalf("expected 1 command write, got %d", len(link.writes))
  }

  if !bytes.Equal(link.writes[0], buildCommand(cmdInListPassiveTarget, []byte{0x01, baudRateTypeA})) {
    t.Fatalf("unexpected command on the wire: % x", link.writes[0])
  }
}

func TestReadPassiveTargetEmptyField(t *testing.T) {
  link := &fakeLink{
    reads: [][]byte{
      ackFrame,
      deviceFrame([]byte{0xd5, 0x4b, 0x00}),
    },
  }

  dev := NewDevice(link)
  _, err := dev.ReadPassiveTarget(context.Background())

  if !errors.Is(err, ErrNoTarget) {
    t.Fatalf("got %v, wanted ErrNoTarget", err)
  }
}

func TestReadPassiveTargetRejectsWrongResponseCode(t *testing.T) {
  link := &fakeLink{
    reads: [][]byte{
      ackFrame,
      deviceFrame([]byte{0xd5, 0x15}), // SAMConfiguration response instead
    },
  }

  dev := NewDevice(link)
  _, err := dev.ReadPassiveTarget(context.Background())

  if !errors.Is(err, ErrInvalidFrame) {
    t.Fatalf("got %v, wanted ErrInvalidFrame", err)
  }
}

func TestParseUID(t *testing.T) {
  for _, input := range []string{"04a224d2", "04:A2:24:D2", "04-a2-24-d2"} {
    uid, err := ParseUID(input)

    if err != nil {
      t.Fatalf("ParseUID(%q) got error: %v", input, err)
    }

    if !bytes.Equal(uid, []byte{0x04, 0xa2, 0x24, 0xd2}) {
      t.Fatalf("ParseUID(%q): got % x", input, uid)
    }
  }
}

func TestParseUIDRejectsBadInput(t *testing.T) {
  for _, input := range []string{"", "zz", "0102", "01020304050607080910111213"} {
    if _, err := ParseUID(input); err == nil {
      t.Fatalf("ParseUID(%q) unexpectedly succeeded", input)
    }
  }
}
