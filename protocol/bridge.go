package protocol

// Bridge command ids. NewBridgeRegistry registers them in this order.
const (
	CmdIdentify uint16 = iota
	CmdSPIXfer
	CmdSetPin
	CmdEintConfig
	RespIdentify
	RespSPIXfer
	RespEintFired
)

var bridgeCommands = [...]struct{ name, format string }{
	CmdIdentify:   {"identify", ""},
	CmdSPIXfer:    {"spi_xfer", "data=%*s"},
	CmdSetPin:     {"set_pin", "pin=%c value=%c"},
	CmdEintConfig: {"eint_config", "enable=%c"},
	RespIdentify:  {"identify_response", "version=%*s"},
	RespSPIXfer:   {"spi_xfer_response", "data=%*s"},
	RespEintFired: {"eint_fired", ""},
}

// SPIChunk is the most bytes one spi_xfer carries.
const SPIChunk = 48

// Pins addressed by set_pin.
const (
	PinChipSelect uint8 = iota
	PinHibernate
	PinReset
	NumPins
)

// NewBridgeRegistry returns the dictionary shared by the bridge firmware
// and the host client.
func NewBridgeRegistry() *Registry {
	r := NewRegistry()
	for _, c := range bridgeCommands {
		r.Register(c.name, c.format)
	}
	return r
}
