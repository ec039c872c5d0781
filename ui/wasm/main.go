//go:build js && wasm

// Command wasm exposes the bridge link codec to the browser so captured
// serial traffic can be decoded and test frames built by hand.
package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"syscall/js"

	"mrf24w/protocol"
)

var registry = protocol.NewBridgeRegistry()

func main() {
	js.Global().Set("mrf24wBridge", js.ValueOf(map[string]any{
		"encodeVLQ":     js.FuncOf(encodeVLQ),
		"decodeVLQ":     js.FuncOf(decodeVLQ),
		"crc16":         js.FuncOf(crc16),
		"encodeCommand": js.FuncOf(encodeCommand),
		"decodeStream":  js.FuncOf(decodeStream),
		"dictionary":    registry.Dictionary(),
		"version":       protocol.Version,
	}))
	select {}
}

// encodeVLQ(value) returns the hex encoding of one signed value.
func encodeVLQ(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errorResult("missing value")
	}
	var out protocol.ScratchOutput
	protocol.EncodeVLQInt(&out, int32(args[0].Int()))
	return hex.EncodeToString(out.Result())
}

// decodeVLQ(hex) returns {value, consumed} or {error}.
func decodeVLQ(_ js.Value, args []js.Value) any {
	data, err := hexArg(args, 0)
	if err != nil {
		return errorResult(err.Error())
	}
	rest := data
	v, err := protocol.DecodeVLQInt(&rest)
	if err != nil {
		return errorResult(err.Error())
	}
	return map[string]any{"value": int(v), "consumed": len(data) - len(rest)}
}

func crc16(_ js.Value, args []js.Value) any {
	data, err := hexArg(args, 0)
	if err != nil {
		return errorResult(err.Error())
	}
	return int(protocol.CRC16(data))
}

// encodeCommand(seq, name, ...args) builds a full frame. Numeric
// arguments fill %c and %u fields; strings are hex for %*s fields.
func encodeCommand(_ js.Value, args []js.Value) any {
	if len(args) < 2 {
		return errorResult("usage: encodeCommand(seq, name, ...args)")
	}
	cmd, ok := registry.LookupName(args[1].String())
	if !ok {
		return errorResult(fmt.Sprintf("unknown command %q", args[1].String()))
	}
	fields := strings.Fields(cmd.Format)
	vals := args[2:]
	if len(vals) != len(fields) {
		return errorResult(fmt.Sprintf("%s takes %d arguments", cmd.Name, len(fields)))
	}
	var out protocol.ScratchOutput
	protocol.EncodeVLQUint(&out, uint32(cmd.ID))
	for i, f := range fields {
		if strings.HasSuffix(f, "%*s") {
			b, err := hex.DecodeString(vals[i].String())
			if err != nil {
				return errorResult(fmt.Sprintf("%s: %v", f, err))
			}
			protocol.EncodeVLQBytes(&out, b)
			continue
		}
		protocol.EncodeVLQUint(&out, uint32(vals[i].Int()))
	}
	if out.Overflowed() {
		return errorResult(protocol.ErrFrameTooLong.Error())
	}
	seq := uint8(args[0].Int())&protocol.SeqMask | protocol.SeqDest
	frame, err := protocol.AppendFrame(nil, seq, out.Result())
	if err != nil {
		return errorResult(err.Error())
	}
	return hex.EncodeToString(frame)
}

// decodeStream(hex) decodes every frame in a captured byte stream and
// returns [{seq, text}] plus the undecodable tail.
func decodeStream(_ js.Value, args []js.Value) any {
	data, err := hexArg(args, 0)
	if err != nil {
		return errorResult(err.Error())
	}
	var frames []any
	for len(data) > 0 {
		seq, payload, rest, err := protocol.ParseFrame(data)
		if err != nil {
			break
		}
		text, err := registry.Describe(payload)
		if err != nil {
			text = "error: " + err.Error()
		}
		frames = append(frames, map[string]any{"seq": int(seq & protocol.SeqMask), "text": text})
		data = rest
	}
	return map[string]any{"frames": frames, "rest": hex.EncodeToString(data)}
}

func hexArg(args []js.Value, i int) ([]byte, error) {
	if len(args) <= i {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	return hex.DecodeString(strings.ReplaceAll(args[i].String(), " ", ""))
}

func errorResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}
