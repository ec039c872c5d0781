package core

import "strconv"

// Management message types (byte 0 of every message)
const (
	TypeDataRequest    uint8 = 1
	TypeMgmtRequest    uint8 = 2
	TypeDataTxConfirm  uint8 = 1
	TypeMgmtConfirm    uint8 = 2
	TypeDataRxIndicate uint8 = 3
	TypeMgmtIndicate   uint8 = 4
)

// Management framing constants
const (
	MaxMgmtMsgSize    = 128 // Largest TX management request
	MgmtHeaderSize    = 4   // {type, subtype, result, macState}
	MgmtDataOffset    = 4   // Response data index
	ParamDataOffset   = 6   // Get-param response data index
	DataPreambleSize  = 4
	StdDataMsgSubtype = 1
)

// MgmtSubtype identifies a management request and its confirm.
type MgmtSubtype uint8

const (
	SubtypeScan           MgmtSubtype = 1
	SubtypeJoin           MgmtSubtype = 2
	SubtypeAuth           MgmtSubtype = 3
	SubtypeAssoc          MgmtSubtype = 4
	SubtypeDisconnect     MgmtSubtype = 5
	SubtypeDisassoc       MgmtSubtype = 6
	SubtypeSetPowerMode   MgmtSubtype = 7
	SubtypeSetParam       MgmtSubtype = 15
	SubtypeGetParam       MgmtSubtype = 16
	SubtypeCPCreate       MgmtSubtype = 21
	SubtypeCPDelete       MgmtSubtype = 22
	SubtypeCPGetIDList    MgmtSubtype = 23
	SubtypeCPSetElement   MgmtSubtype = 24
	SubtypeCPGetElement   MgmtSubtype = 25
	SubtypeCASetElement   MgmtSubtype = 26
	SubtypeCAGetElement   MgmtSubtype = 27
	SubtypeScanStart      MgmtSubtype = 28
	SubtypeScanGetResults MgmtSubtype = 29
	SubtypeCMConnect      MgmtSubtype = 30
	SubtypeCMDisconnect   MgmtSubtype = 31
	SubtypeCMGetStatus    MgmtSubtype = 32
)

var subtypeNames = map[MgmtSubtype]string{
	SubtypeScan:           "scan",
	SubtypeJoin:           "join",
	SubtypeAuth:           "auth",
	SubtypeAssoc:          "assoc",
	SubtypeDisconnect:     "disconnect",
	SubtypeDisassoc:       "disassoc",
	SubtypeSetPowerMode:   "set_power_mode",
	SubtypeSetParam:       "set_param",
	SubtypeGetParam:       "get_param",
	SubtypeCPCreate:       "cp_create",
	SubtypeCPDelete:       "cp_delete",
	SubtypeCPGetIDList:    "cp_get_id_list",
	SubtypeCPSetElement:   "cp_set_element",
	SubtypeCPGetElement:   "cp_get_element",
	SubtypeCASetElement:   "ca_set_element",
	SubtypeCAGetElement:   "ca_get_element",
	SubtypeScanStart:      "scan_start",
	SubtypeScanGetResults: "scan_get_results",
	SubtypeCMConnect:      "cm_connect",
	SubtypeCMDisconnect:   "cm_disconnect",
	SubtypeCMGetStatus:    "cm_get_connection_status",
}

func (s MgmtSubtype) String() string {
	if n, ok := subtypeNames[s]; ok {
		return n
	}
	return "subtype_" + strconv.Itoa(int(s))
}

// ResultCode is byte 2 of a management confirm.
type ResultCode uint8

const (
	ResultSuccess                  ResultCode = 1
	ResultInvalidSubtype           ResultCode = 2
	ResultOperationCancelled       ResultCode = 3
	ResultFrameEndOfLine           ResultCode = 4
	ResultFrameRetryLimitExceeded  ResultCode = 5
	ResultExpectedBSSValueNotFrame ResultCode = 6
	ResultFrameTransmitFailure     ResultCode = 7
	ResultUnsupported              ResultCode = 8
	ResultBadParamLength           ResultCode = 14
	ResultBadParam                 ResultCode = 16
	ResultNotPermitted             ResultCode = 24
	ResultInvalidProfileID         ResultCode = 25
	ResultNotConnected             ResultCode = 36
	ResultAlreadyConnecting        ResultCode = 37
	ResultDisconnectFailed         ResultCode = 38
	ResultNoStoredBSSDescriptor    ResultCode = 39
	ResultInvalidMaxPowerLevel     ResultCode = 40
	ResultConnectionTerminated     ResultCode = 41
	ResultHostScanNotAllowed       ResultCode = 42
	ResultInvalidWPSPin            ResultCode = 44
)

var resultNames = map[ResultCode]string{
	ResultSuccess:                  "success",
	ResultInvalidSubtype:           "invalid subtype",
	ResultOperationCancelled:       "operation cancelled",
	ResultFrameEndOfLine:           "frame end of line",
	ResultFrameRetryLimitExceeded:  "frame retry limit exceeded",
	ResultExpectedBSSValueNotFrame: "expected BSS value not in frame",
	ResultFrameTransmitFailure:     "frame transmit failure",
	ResultUnsupported:              "unsupported",
	ResultBadParamLength:           "bad parameter length",
	ResultBadParam:                 "bad parameter",
	ResultNotPermitted:             "not permitted",
	ResultInvalidProfileID:         "invalid connection profile id",
	ResultNotConnected:             "not connected",
	ResultAlreadyConnecting:        "already connecting",
	ResultDisconnectFailed:         "disconnect failed",
	ResultNoStoredBSSDescriptor:    "no stored BSS descriptor",
	ResultInvalidMaxPowerLevel:     "invalid max power level",
	ResultConnectionTerminated:     "connection terminated",
	ResultHostScanNotAllowed:       "host scan not allowed",
	ResultInvalidWPSPin:            "invalid WPS pin",
}

func (r ResultCode) String() string {
	if n, ok := resultNames[r]; ok {
		return n
	}
	return "result_" + strconv.Itoa(int(r))
}

// softResult reports whether a failing result is logged instead of
// returned for the given request subtype.
func softResult(subtype MgmtSubtype, code ResultCode) bool {
	switch code {
	case ResultDisconnectFailed, ResultNotConnected, ResultNoStoredBSSDescriptor:
		return true
	case ResultInvalidProfileID:
		return subtype == SubtypeCMConnect
	}
	return false
}

// MgmtHeader is the fixed prefix of a management confirm.
type MgmtHeader struct {
	Type     uint8
	Subtype  MgmtSubtype
	Result   ResultCode
	MACState uint8
}

func parseMgmtHeader(b []byte) MgmtHeader {
	return MgmtHeader{Type: b[0], Subtype: MgmtSubtype(b[1]), Result: ResultCode(b[2]), MACState: b[3]}
}

// EventSubtype identifies an indicate message.
type EventSubtype uint8

const (
	EventConnectionAttemptStatus EventSubtype = 6
	EventConnectionLost          EventSubtype = 7
	EventConnectionReestablished EventSubtype = 8
	EventKeyCalculationRequest   EventSubtype = 9
	EventScanResultsReady        EventSubtype = 11
	EventScanIEResultsReady      EventSubtype = 12
	EventSoftAP                  EventSubtype = 13
)

func (e EventSubtype) String() string {
	switch e {
	case EventConnectionAttemptStatus:
		return "connection_attempt_status"
	case EventConnectionLost:
		return "connection_lost"
	case EventConnectionReestablished:
		return "connection_reestablished"
	case EventKeyCalculationRequest:
		return "key_calculation_request"
	case EventScanResultsReady:
		return "scan_results_ready"
	case EventScanIEResultsReady:
		return "scan_ie_results_ready"
	case EventSoftAP:
		return "soft_ap"
	}
	return "event_" + strconv.Itoa(int(e))
}

// Connection attempt status values (event byte 2)
const (
	ConnAttemptSuccessful = 1
	ConnAttemptFailed     = 2
)

// Connection lost values (event byte 2)
const (
	ConnTemporarilyLost = 1
	ConnPermanentlyLost = 2
	ConnReestablished   = 3
)

// Event is an indicate message from the co-processor.
type Event struct {
	Subtype EventSubtype
	Data    []byte
}

// ConnectionState is the co-processor's connection manager state.
type ConnectionState uint8

const (
	ConnNotConnected              ConnectionState = 1
	ConnInProgress                ConnectionState = 2
	ConnConnectedInfrastructure   ConnectionState = 3
	ConnConnectedAdHoc            ConnectionState = 4
	ConnReconnectionInProgress    ConnectionState = 5
	ConnConnectionPermanentlyLost ConnectionState = 6
)

func (s ConnectionState) String() string {
	switch s {
	case ConnNotConnected:
		return "not_connected"
	case ConnInProgress:
		return "in_progress"
	case ConnConnectedInfrastructure:
		return "connected_infrastructure"
	case ConnConnectedAdHoc:
		return "connected_adhoc"
	case ConnReconnectionInProgress:
		return "reconnection_in_progress"
	case ConnConnectionPermanentlyLost:
		return "permanently_lost"
	}
	return "state_" + strconv.Itoa(int(s))
}

// Connected reports whether s is one of the connected variants.
func (s ConnectionState) Connected() bool {
	return s == ConnConnectedInfrastructure || s == ConnConnectedAdHoc
}

// Active reports whether s is connected or working towards it.
func (s ConnectionState) Active() bool {
	switch s {
	case ConnInProgress, ConnConnectedInfrastructure, ConnConnectedAdHoc, ConnReconnectionInProgress:
		return true
	}
	return false
}
