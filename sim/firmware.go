package sim

import (
	"log/slog"
	"net"

	"mrf24w/core"
)

// maxProfiles is how many connection profiles the firmware holds.
const maxProfiles = 8

// firmware answers management requests the way the co-processor's
// connection manager does, minus the radio.
type firmware struct {
	state core.ConnectionState
	cpID  uint8

	psEnabled bool
	rxDtim    bool

	params map[core.ParamID][]byte

	requests [][]byte
	sent     [][]byte

	// respond overrides the model when it returns a non-nil confirm.
	respond func(req []byte) []byte
	silent  bool
}

func (f *firmware) init(mac net.HardwareAddr) {
	f.params = map[core.ParamID][]byte{
		core.ParamMACAddress:        append([]byte(nil), mac...),
		core.ParamRegionalDomain:    {2}, // FCC
		core.ParamRTSThreshold:      {0x09, 0x2b},
		core.ParamConfirmDataTx:     {0},
		core.ParamSystemVersion:     {0x31, 0x20},
		core.ParamLinkDownThreshold: {0},
	}
}

func (f *firmware) reset() {
	f.state = core.ConnNotConnected
	f.cpID = 0
	f.psEnabled, f.rxDtim = false, false
}

func confirm(subtype core.MgmtSubtype, result core.ResultCode, data ...byte) []byte {
	return append([]byte{core.TypeMgmtConfirm, byte(subtype), byte(result), 0}, data...)
}

func indicate(ev core.EventSubtype, data ...byte) []byte {
	return append([]byte{core.TypeMgmtIndicate, byte(ev)}, data...)
}

// request handles one management request from the host.
func (f *firmware) request(d *Device, msg []byte) {
	f.requests = append(f.requests, msg)
	if f.respond != nil {
		if resp := f.respond(msg); resp != nil {
			d.enqueue(fifoMgmt, resp)
			return
		}
	}
	if len(msg) < 2 || msg[0] != core.TypeMgmtRequest {
		d.log.Warn("sim: malformed management request", slog.Int("len", len(msg)))
		return
	}
	if f.silent {
		return
	}
	subtype := core.MgmtSubtype(msg[1])
	arg := func(i int) byte {
		if i < len(msg) {
			return msg[i]
		}
		return 0
	}

	switch subtype {
	case core.SubtypeCMConnect:
		cp := arg(2)
		if cp == 0 || cp > maxProfiles {
			d.enqueue(fifoMgmt, confirm(subtype, core.ResultInvalidProfileID))
			d.enqueue(fifoMgmt, indicate(core.EventConnectionAttemptStatus, core.ConnAttemptFailed, 0))
			return
		}
		if f.state.Active() {
			d.enqueue(fifoMgmt, confirm(subtype, core.ResultAlreadyConnecting))
			return
		}
		f.state, f.cpID = core.ConnConnectedInfrastructure, cp
		d.enqueue(fifoMgmt, confirm(subtype, core.ResultSuccess))
		d.enqueue(fifoMgmt, indicate(core.EventConnectionAttemptStatus, core.ConnAttemptSuccessful, 0))

	case core.SubtypeCMDisconnect:
		if !f.state.Connected() {
			d.enqueue(fifoMgmt, confirm(subtype, core.ResultDisconnectFailed))
			return
		}
		f.state, f.cpID = core.ConnNotConnected, 0
		d.enqueue(fifoMgmt, confirm(subtype, core.ResultSuccess))

	case core.SubtypeCMGetStatus:
		d.enqueue(fifoMgmt, confirm(subtype, core.ResultSuccess, byte(f.state), f.cpID))

	case core.SubtypeSetPowerMode:
		f.psEnabled = arg(2) == 0
		f.rxDtim = f.psEnabled && arg(4) != 0
		d.enqueue(fifoMgmt, confirm(subtype, core.ResultSuccess))

	case core.SubtypeSetParam:
		id := core.ParamID(arg(3))
		size, ok := core.ParamSize(id)
		switch {
		case !ok || id == core.ParamSystemVersion:
			d.enqueue(fifoMgmt, confirm(subtype, core.ResultBadParam))
		case len(msg)-4 != size:
			d.enqueue(fifoMgmt, confirm(subtype, core.ResultBadParamLength))
		default:
			f.params[id] = append([]byte(nil), msg[4:]...)
			d.enqueue(fifoMgmt, confirm(subtype, core.ResultSuccess))
		}

	case core.SubtypeGetParam:
		v, ok := f.params[core.ParamID(arg(3))]
		if !ok {
			d.enqueue(fifoMgmt, confirm(subtype, core.ResultBadParam))
			return
		}
		data := append([]byte{0, byte(len(v))}, v...)
		d.enqueue(fifoMgmt, confirm(subtype, core.ResultSuccess, data...))

	default:
		d.enqueue(fifoMgmt, confirm(subtype, core.ResultInvalidSubtype))
	}
}

// data takes a data frame sent by the host.
func (f *firmware) data(msg []byte) {
	if len(msg) < core.DataPreambleSize {
		return
	}
	f.sent = append(f.sent, msg[core.DataPreambleSize:])
}
