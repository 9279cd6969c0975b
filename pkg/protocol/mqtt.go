package protocol

import (
	"github.com/aretw0/replayfuzz/pkg/domain"
)

var mqttPacketTypes = map[byte]string{
	1:  "CONNECT",
	2:  "CONNACK",
	3:  "PUBLISH",
	4:  "PUBACK",
	5:  "PUBREC",
	6:  "PUBREL",
	7:  "PUBCOMP",
	8:  "SUBSCRIBE",
	9:  "SUBACK",
	10: "UNSUBSCRIBE",
	11: "UNSUBACK",
	12: "PINGREQ",
	13: "PINGRESP",
	14: "DISCONNECT",
}

// MQTT sends binary payloads untouched; the broker keeps no per-message
// sequence or token that the harness must carry.
type MQTT struct{}

// NewMQTT builds the dialect. It takes no options.
func NewMQTT(raw map[string]any) (*MQTT, error) {
	var none struct{}
	if err := decodeOptions(raw, &none); err != nil {
		return nil, err
	}
	return &MQTT{}, nil
}

func (d *MQTT) Name() string { return "mqtt" }

func (d *MQTT) Prepare(payload []byte, _ domain.SessionState) []byte { return payload }

func (d *MQTT) ExtractToken([]byte) string { return "" }

// Classify names the control packet type from the high nibble of the first byte.
func (d *MQTT) Classify(resp []byte) string {
	return PacketType(resp)
}

func (d *MQTT) Greets() bool { return false }

func (d *MQTT) Recover([]byte) []byte { return nil }

func (d *MQTT) DefaultTranscript() domain.Transcript {
	return domain.NewTranscript(
		[2]string{"CONNECT", "CONNACK"},
		[2]string{"SUBSCRIBE", "SUBACK"},
		[2]string{"PUBLISH", ""},
		[2]string{"UNSUBSCRIBE", "UNSUBACK"},
		[2]string{"PINGREQ", "PINGRESP"},
		[2]string{"DISCONNECT", ""},
	)
}

// PacketType names an MQTT control packet, or returns "UNKNOWN".
func PacketType(pkt []byte) string {
	if len(pkt) < 2 {
		return "UNKNOWN"
	}
	if name, ok := mqttPacketTypes[pkt[0]>>4]; ok {
		return name
	}
	return "UNKNOWN"
}
