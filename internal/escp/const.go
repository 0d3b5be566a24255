package escp

// Network ports used by the printer.
const (
	SNMPPort = 161  // UDP: status and nozzle check queries
	RawPort  = 9100 // TCP: raw print data stream carrying Remote Mode
)

// Frame markers. Each is followed by an optional CR and a LF.
const (
	StatusMarker = "@BDC ST2"
	NozzleMarker = "@BDC PS"
)

// ST2 TLV field types.
const (
	FieldStatus      byte = 0x01
	FieldErrorCode   byte = 0x02
	FieldWarningCode byte = 0x04
	FieldTanks       byte = 0x0D
	FieldInk         byte = 0x0F
	FieldJobName     byte = 0x19
	FieldSerial      byte = 0x1F
)

// Printer status codes carried in the ST2 status field.
const (
	StatusError        byte = 0
	StatusSelfPrinting byte = 1
	StatusBusy         byte = 2
	StatusWaiting      byte = 3
	StatusIdle         byte = 4
	StatusPaused       byte = 5
	StatusCleaning     byte = 7
	StatusNozzleCheck  byte = 15
)

// Remote Mode command codes.
const (
	CmdJobStart    = "JS"
	CmdJobEnd      = "JE"
	CmdNozzleCheck = "NC"
	CmdClean       = "CH"
)

// Escape sequences written to the raw port.
var (
	seqReset      = []byte{0x1B, '@'}
	seqEnterR     = []byte{0x1B, '(', 'R', 0x08, 0x00, 0x00, 'R', 'E', 'M', 'O', 'T', 'E', '1'}
	seqExitRemote = []byte{0x1B, 0x00, 0x00, 0x00}
)

// Nozzle check parameters. Meaning unknown; both are required, in order.
var (
	nozzleCheckArgs1 = []byte{0x00, 0x10}
	nozzleCheckArgs2 = []byte{0x00, 0x11}
)

// PowerCleanFlag is ORed into the group id for a power clean.
const PowerCleanFlag byte = 0x10

// Cleaning group bounds.
const (
	MinGroup = 1
	MaxGroup = 5
)

// Pre-encoded SNMPv1 GetRequest datagrams, community "public".
var (
	// StatusQuery requests OID 1.3.6.1.4.1.1248.1.2.2.1.1.1.4.1 (ST2 status).
	StatusQuery = []byte{
		0x30, 0x30, 0x02, 0x01, 0x00, 0x04, 0x06, 0x70, 0x75, 0x62, 0x6c, 0x69,
		0x63, 0xa0, 0x23, 0x02, 0x04, 0x04, 0x25, 0xb6, 0x23, 0x02, 0x01, 0x00,
		0x02, 0x01, 0x00, 0x30, 0x15, 0x30, 0x13, 0x06, 0x0f, 0x2b, 0x06, 0x01,
		0x04, 0x01, 0x89, 0x60, 0x01, 0x02, 0x02, 0x01, 0x01, 0x01, 0x04, 0x01,
		0x05, 0x00,
	}

	// NozzleQuery requests OID 1.3.6.1.4.1.1248.1.2.2.44.1.1.2.1.110.99.2.0.1.16
	// (PS nozzle check result).
	NozzleQuery = []byte{
		0x30, 0x33, 0x02, 0x01, 0x00, 0x04, 0x06, 0x70, 0x75, 0x62, 0x6c, 0x69,
		0x63, 0xa0, 0x26, 0x02, 0x01, 0x49, 0x02, 0x01, 0x00, 0x02, 0x01, 0x00,
		0x30, 0x1b, 0x30, 0x19, 0x06, 0x15, 0x2b, 0x06, 0x01, 0x04, 0x01, 0x89,
		0x60, 0x01, 0x02, 0x02, 0x2c, 0x01, 0x01, 0x02, 0x01, 0x6e, 0x63, 0x02,
		0x00, 0x01, 0x10, 0x05, 0x00,
	}
)
