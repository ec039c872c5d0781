package core

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
)

// ParamID selects a co-processor firmware parameter.
type ParamID uint8

const (
	ParamMACAddress        ParamID = 1
	ParamRegionalDomain    ParamID = 2
	ParamRTSThreshold      ParamID = 3
	ParamConfirmDataTx     ParamID = 9
	ParamSystemVersion     ParamID = 26
	ParamLinkDownThreshold ParamID = 33
)

var paramNames = map[ParamID]string{
	ParamMACAddress:        "mac_address",
	ParamRegionalDomain:    "regional_domain",
	ParamRTSThreshold:      "rts_threshold",
	ParamConfirmDataTx:     "confirm_data_tx",
	ParamSystemVersion:     "system_version",
	ParamLinkDownThreshold: "link_down_threshold",
}

func (p ParamID) String() string {
	if s, ok := paramNames[p]; ok {
		return s
	}
	return fmt.Sprintf("param(%d)", uint8(p))
}

// ParamSize is the value length of the known parameters.
func ParamSize(p ParamID) (int, bool) {
	switch p {
	case ParamMACAddress:
		return 6, true
	case ParamRTSThreshold, ParamSystemVersion:
		return 2, true
	case ParamRegionalDomain, ParamConfirmDataTx, ParamLinkDownThreshold:
		return 1, true
	}
	return 0, false
}

// SetParam writes a firmware parameter.
func (d *Driver) SetParam(id ParamID, value []byte) error {
	return d.do(func() error {
		_, err := d.transact(Request{
			Header:  []byte{TypeMgmtRequest, byte(SubtypeSetParam), 0, byte(id)},
			Payload: value,
			Expect:  SubtypeSetParam,
		})
		if err == nil {
			d.debug("param set", slog.String("param", id.String()), slog.Int("len", len(value)))
		}
		return err
	})
}

// GetParam reads len(dst) bytes of a firmware parameter.
func (d *Driver) GetParam(id ParamID, dst []byte) error {
	return d.do(func() error {
		_, err := d.transact(Request{
			Header:     []byte{TypeMgmtRequest, byte(SubtypeGetParam), 0, byte(id)},
			Expect:     SubtypeGetParam,
			ReadOffset: ParamDataOffset,
			Read:       dst,
		})
		return err
	})
}

func (d *Driver) MACAddress() (net.HardwareAddr, error) {
	mac := make(net.HardwareAddr, 6)
	if err := d.GetParam(ParamMACAddress, mac); err != nil {
		return nil, err
	}
	return mac, nil
}

func (d *Driver) SetMACAddress(mac net.HardwareAddr) error {
	if len(mac) != 6 {
		return fmt.Errorf("mrf24w: bad MAC address length %d", len(mac))
	}
	return d.SetParam(ParamMACAddress, mac)
}

func (d *Driver) SetRegionalDomain(domain uint8) error {
	return d.SetParam(ParamRegionalDomain, []byte{domain})
}

func (d *Driver) RegionalDomain() (uint8, error) {
	var b [1]byte
	err := d.GetParam(ParamRegionalDomain, b[:])
	return b[0], err
}

// SetRTSThreshold sets the frame size above which RTS/CTS is used.
func (d *Driver) SetRTSThreshold(n uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], n)
	return d.SetParam(ParamRTSThreshold, b[:])
}

func (d *Driver) RTSThreshold() (uint16, error) {
	var b [2]byte
	err := d.GetParam(ParamRTSThreshold, b[:])
	return binary.BigEndian.Uint16(b[:]), err
}

// SetConfirmDataTx asks the firmware to confirm every data frame sent.
func (d *Driver) SetConfirmDataTx(enable bool) error {
	var v byte
	if enable {
		v = 1
	}
	return d.SetParam(ParamConfirmDataTx, []byte{v})
}

// SystemVersion returns the firmware ROM and patch versions.
func (d *Driver) SystemVersion() (rom, patch uint8, err error) {
	var b [2]byte
	err = d.GetParam(ParamSystemVersion, b[:])
	return b[0], b[1], err
}

// SetLinkDownThreshold sets how many missed beacons mean a lost link.
// Zero disables the check.
func (d *Driver) SetLinkDownThreshold(n uint8) error {
	return d.SetParam(ParamLinkDownThreshold, []byte{n})
}
