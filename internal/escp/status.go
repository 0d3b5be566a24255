package escp

import (
	"bytes"
	"fmt"

	"github.com/OpenPrinting/go-mfp/util/optional"
)

// Ink is one cartridge entry of the ST2 ink field.
type Ink struct {
	ColourID byte
	Level    byte
	Name     string
}

// Tanks holds the two maintenance tank levels.
type Tanks struct {
	Tank1 byte
	Tank2 byte
}

// Field is one decoded ST2 TLV record.
type Field interface {
	FieldType() byte
}

// InkField is field 0x0F.
type InkField struct{ Inks []Ink }

// TankField is field 0x0D.
type TankField struct{ Tanks Tanks }

// JobNameField is field 0x19. Raw bytes, padding included.
type JobNameField struct{ Raw []byte }

// SerialField is field 0x1F.
type SerialField struct{ Serial string }

// StatusField is field 0x01.
type StatusField struct{ Code byte }

// ErrorCodeField is field 0x02. Not interpreted.
type ErrorCodeField struct{ Raw []byte }

// WarningCodeField is field 0x04. Not interpreted.
type WarningCodeField struct{ Raw []byte }

// UnknownField carries any TLV type without a decoder.
type UnknownField struct {
	Type byte
	Raw  []byte
}

func (InkField) FieldType() byte         { return FieldInk }
func (TankField) FieldType() byte        { return FieldTanks }
func (JobNameField) FieldType() byte     { return FieldJobName }
func (SerialField) FieldType() byte      { return FieldSerial }
func (StatusField) FieldType() byte      { return FieldStatus }
func (ErrorCodeField) FieldType() byte   { return FieldErrorCode }
func (WarningCodeField) FieldType() byte { return FieldWarningCode }
func (f UnknownField) FieldType() byte   { return f.Type }

// StatusRecord is a decoded ST2 status frame.
type StatusRecord struct {
	Inks        []Ink
	Tanks       optional.Val[Tanks]
	JobName     []byte // nil when absent
	Serial      optional.Val[string]
	Status      byte
	StatusText  string
	Ready       bool
	ErrorCode   []byte // nil when absent
	WarningCode []byte // nil when absent
	Unknown     []UnknownField
	Fields      []Field // every decoded field in wire order
}

var colourNames = map[byte]string{
	0x01: "Photo Black",
	0x03: "Cyan",
	0x04: "Magenta",
	0x05: "Yellow",
	0x06: "Light Cyan",
	0x07: "Light Magenta",
	0x0A: "Light Black",
	0x0B: "Matte Black",
	0x0F: "Light Light Black",
	0x10: "Orange",
	0x11: "Green",
}

var statusNames = map[byte]string{
	StatusError:        "Error",
	StatusSelfPrinting: "Self Printing",
	StatusBusy:         "Busy",
	StatusWaiting:      "Waiting",
	StatusIdle:         "Idle",
	StatusPaused:       "Paused",
	StatusCleaning:     "Cleaning",
	StatusNozzleCheck:  "Nozzle Check",
}

// ColourName returns the cartridge colour for an ink id, or a hex tag.
func ColourName(id byte) string {
	if name, ok := colourNames[id]; ok {
		return name
	}
	return fmt.Sprintf("0x%X", id)
}

// StatusText returns the name of a printer status code.
func StatusText(code byte) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown: %d", code)
}

// IsReady reports whether a status code means the printer accepts commands.
func IsReady(code byte) bool {
	return code == StatusWaiting || code == StatusIdle
}

type fieldDecoder func(value []byte, offset int) (Field, error)

var fieldDecoders = map[byte]fieldDecoder{
	FieldInk:         decodeInk,
	FieldTanks:       decodeTanks,
	FieldJobName:     func(v []byte, _ int) (Field, error) { return JobNameField{Raw: v}, nil },
	FieldSerial:      func(v []byte, _ int) (Field, error) { return SerialField{Serial: string(v)}, nil },
	FieldStatus:      decodeStatusCode,
	FieldErrorCode:   func(v []byte, _ int) (Field, error) { return ErrorCodeField{Raw: v}, nil },
	FieldWarningCode: func(v []byte, _ int) (Field, error) { return WarningCodeField{Raw: v}, nil },
}

func decodeInk(v []byte, offset int) (Field, error) {
	if len(v) == 0 {
		return nil, decodeErr(ErrMalformedInkRecord, FieldInk, offset, "empty value")
	}
	width := int(v[0])
	if width == 0 {
		return nil, decodeErr(ErrMalformedInkRecord, FieldInk, offset, "entry width is zero")
	}
	var inks []Ink
	for i := 1; i < len(v); i += width {
		// byte 1 of each entry is reserved
		if i+2 >= len(v) {
			return nil, decodeErr(ErrMalformedInkRecord, FieldInk, offset+i, "entry shorter than 3 bytes")
		}
		inks = append(inks, Ink{ColourID: v[i], Level: v[i+2], Name: ColourName(v[i])})
	}
	return InkField{Inks: inks}, nil
}

func decodeTanks(v []byte, offset int) (Field, error) {
	if len(v) < 2 {
		return nil, decodeErr(ErrMalformedTankRecord, FieldTanks, offset, "need 2 bytes, got %d", len(v))
	}
	return TankField{Tanks: Tanks{Tank1: v[0], Tank2: v[1]}}, nil
}

func decodeStatusCode(v []byte, offset int) (Field, error) {
	if len(v) == 0 {
		return nil, decodeErr(ErrMissingStatus, FieldStatus, offset, "empty value")
	}
	return StatusField{Code: v[0]}, nil
}

// findMarker returns the offset just past marker and its CR LF / LF terminator.
func findMarker(raw []byte, marker string) (int, bool) {
	idx := bytes.Index(raw, []byte(marker))
	if idx < 0 {
		return 0, false
	}
	pos := idx + len(marker)
	if pos < len(raw) && raw[pos] == '\r' {
		pos++
	}
	if pos >= len(raw) || raw[pos] != '\n' {
		return 0, false
	}
	return pos + 1, true
}

// DecodeFields splits an ST2 frame into its fields, in wire order.
func DecodeFields(raw []byte) ([]Field, error) {
	start, ok := findMarker(raw, StatusMarker)
	if !ok {
		return nil, decodeErr(ErrMalformedHeader, 0, -1, "%q not found", StatusMarker)
	}
	buf := raw[start:]

	var fields []Field
	for off := 0; off < len(buf); {
		if off+2 > len(buf) {
			return nil, decodeErr(ErrTruncatedRecord, buf[off], off, "TLV header cut short")
		}
		ftype, length := buf[off], int(buf[off+1])
		valueOff := off + 2
		if valueOff+length > len(buf) {
			return nil, decodeErr(ErrTruncatedRecord, ftype, off, "declared %d bytes, %d remain", length, len(buf)-valueOff)
		}
		value := buf[valueOff : valueOff+length]

		var f Field
		if dec, ok := fieldDecoders[ftype]; ok {
			var err error
			if f, err = dec(value, valueOff); err != nil {
				return nil, err
			}
		} else {
			f = UnknownField{Type: ftype, Raw: value}
		}
		fields = append(fields, f)
		off = valueOff + length
	}
	return fields, nil
}

// DecodeStatus decodes an ST2 status frame. raw may carry bytes before the
// marker (an SNMP envelope, for example).
func DecodeStatus(raw []byte) (*StatusRecord, error) {
	fields, err := DecodeFields(raw)
	if err != nil {
		return nil, err
	}

	rec := &StatusRecord{Fields: fields}
	haveStatus := false
	for _, f := range fields {
		switch f := f.(type) {
		case InkField:
			rec.Inks = f.Inks
		case TankField:
			rec.Tanks = optional.New(f.Tanks)
		case JobNameField:
			rec.JobName = f.Raw
		case SerialField:
			rec.Serial = optional.New(f.Serial)
		case StatusField:
			rec.Status = f.Code
			rec.StatusText = StatusText(f.Code)
			rec.Ready = IsReady(f.Code)
			haveStatus = true
		case ErrorCodeField:
			rec.ErrorCode = f.Raw
		case WarningCodeField:
			rec.WarningCode = f.Raw
		case UnknownField:
			rec.Unknown = append(rec.Unknown, f)
		}
	}
	if !haveStatus {
		return nil, decodeErr(ErrMissingStatus, 0, -1, "frame has no field 0x%02X", FieldStatus)
	}
	return rec, nil
}
