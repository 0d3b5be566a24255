package exporter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mzyy94/stylusctl/internal/escp"
)

type fakeSource struct {
	status []byte
	nozzle []byte
	err    error
}

func (f *fakeSource) Status(ctx context.Context) (*escp.StatusRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return escp.DecodeStatus(f.status)
}

func (f *fakeSource) NozzleCheck(ctx context.Context) (escp.NozzleCheckResult, error) {
	return escp.DecodeNozzleCheck(f.nozzle)
}

var idleFrame = []byte("@BDC ST2\r\n" +
	"\x01\x01\x04" +
	"\x0d\x03\x2a\x05\x00" +
	"\x0f\x07\x03\x01\x00\x50\x03\x00\x21")

func TestExporter_Collect(t *testing.T) {
	e := New(&fakeSource{status: idleFrame}, 0, false)

	want := `
# HELP stylus_up Was the last status query of the printer successful.
# TYPE stylus_up gauge
stylus_up 1
# HELP stylus_ready Printer accepts maintenance commands (Waiting or Idle).
# TYPE stylus_ready gauge
stylus_ready 1
# HELP stylus_status Current printer status; the code is the value, the text a label.
# TYPE stylus_status gauge
stylus_status{status="Idle"} 4
# HELP stylus_ink_level_percent Remaining ink per cartridge.
# TYPE stylus_ink_level_percent gauge
stylus_ink_level_percent{colour="Cyan",id="0x3"} 33
stylus_ink_level_percent{colour="Photo Black",id="0x1"} 80
# HELP stylus_maintenance_tank_level Maintenance tank level as reported by the printer.
# TYPE stylus_maintenance_tank_level gauge
stylus_maintenance_tank_level{tank="1"} 42
stylus_maintenance_tank_level{tank="2"} 5
`
	err := testutil.CollectAndCompare(e, strings.NewReader(want),
		"stylus_up", "stylus_ready", "stylus_status", "stylus_ink_level_percent", "stylus_maintenance_tank_level")
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(e.totalScrapes); got != 1 {
		t.Errorf("scrapes = %v, want 1", got)
	}
}

func TestExporter_Nozzles(t *testing.T) {
	e := New(&fakeSource{
		status: idleFrame,
		nozzle: []byte("@BDC PS\r\nnc:00,00,01,00,00,00,00,00,00,00,00;"),
	}, 0, true)

	// up, ready, status, 2 inks, 2 tanks, 11 nozzles, scrapes, and one
	// histogram per query label
	if n := testutil.CollectAndCount(e); n != 21 {
		t.Errorf("collected %d metrics, want 21", n)
	}

	want := `
# HELP stylus_nozzle_blocked Nozzle reported blocked by the last nozzle check.
# TYPE stylus_nozzle_blocked gauge
stylus_nozzle_blocked{colour="Cyan",group="C/VM",nozzle="C"} 0
stylus_nozzle_blocked{colour="Green",group="OR/GR",nozzle="GR"} 0
stylus_nozzle_blocked{colour="Light Black",group="PK(MK)/LK",nozzle="LK"} 0
stylus_nozzle_blocked{colour="Light Cyan",group="VLM/LC",nozzle="LC"} 0
stylus_nozzle_blocked{colour="Light Light Black",group="LLK/Y",nozzle="LLK"} 0
stylus_nozzle_blocked{colour="Matte Black",group="PK(MK)/LK",nozzle="MK"} 0
stylus_nozzle_blocked{colour="Orange",group="OR/GR",nozzle="OR"} 0
stylus_nozzle_blocked{colour="Photo Black",group="PK(MK)/LK",nozzle="PK"} 0
stylus_nozzle_blocked{colour="Vivid Light Magenta",group="VLM/LC",nozzle="VLM"} 0
stylus_nozzle_blocked{colour="Vivid Magenta",group="C/VM",nozzle="VM"} 0
stylus_nozzle_blocked{colour="Yellow",group="LLK/Y",nozzle="Y"} 1
`
	if err := testutil.CollectAndCompare(e, strings.NewReader(want), "stylus_nozzle_blocked"); err != nil {
		t.Fatal(err)
	}
}

func TestExporter_Down(t *testing.T) {
	e := New(&fakeSource{err: &escp.TransportError{Op: "read", Kind: escp.ErrTimeout}}, 0, true)
	want := `
# HELP stylus_up Was the last status query of the printer successful.
# TYPE stylus_up gauge
stylus_up 0
`
	if err := testutil.CollectAndCompare(e, strings.NewReader(want), "stylus_up", "stylus_ready"); err != nil {
		t.Fatal(err)
	}
	// transport failures are not decode errors
	if err := testutil.CollectAndCompare(e, strings.NewReader(""), "stylus_exporter_decode_errors_total"); err != nil {
		t.Error(err)
	}
}

func TestExporter_DecodeErrors(t *testing.T) {
	e := New(&fakeSource{status: []byte("@BDC ST2\r\n\x1f\x01x")}, 0, false)
	want := `
# HELP stylus_exporter_decode_errors_total Number of printer replies that failed to decode.
# TYPE stylus_exporter_decode_errors_total counter
stylus_exporter_decode_errors_total{query="status"} 1
`
	if err := testutil.CollectAndCompare(e, strings.NewReader(want), "stylus_exporter_decode_errors_total"); err != nil {
		t.Fatal(err)
	}
	if !isDecodeError(&escp.DecodeError{Err: escp.ErrMissingStatus}) || isDecodeError(errors.New("x")) {
		t.Error("isDecodeError misclassifies")
	}
}
