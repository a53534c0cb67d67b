package transport

import (
	"fmt"
	"mime"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// DefaultOutputSampleRate is assumed when model audio omits its rate
const DefaultOutputSampleRate = 24000

// translate extracts the fields the tutor acts on from a server message.
// Messages that are valid but irrelevant (setup acks, usage reports)
// translate to an empty ServerMessage and no anomalies.
func translate(msg *genai.LiveServerMessage) (ServerMessage, []*ProtocolAnomaly) {
	var out ServerMessage
	var anomalies []*ProtocolAnomaly

	if msg == nil {
		return out, []*ProtocolAnomaly{{Reason: "empty server message"}}
	}

	if msg.ToolCall != nil {
		anomalies = append(anomalies, &ProtocolAnomaly{Reason: "unexpected tool call"})
	}

	content := msg.ServerContent
	if content == nil {
		if msg.SetupComplete == nil && msg.UsageMetadata == nil && msg.GoAway == nil && msg.ToolCall == nil {
			anomalies = append(anomalies, &ProtocolAnomaly{Reason: "server message has no recognised content"})
		}
		return out, anomalies
	}

	if content.InputTranscription != nil {
		out.InputTranscription = content.InputTranscription.Text
	}
	if content.OutputTranscription != nil {
		out.OutputTranscription = content.OutputTranscription.Text
	}
	out.TurnComplete = content.TurnComplete
	out.Interrupted = content.Interrupted

	if content.ModelTurn != nil {
		for i, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}

			blob := part.InlineData
			rate, ok, err := pcmRate(blob.MIMEType)
			if err != nil {
				anomalies = append(anomalies, &ProtocolAnomaly{
					Reason: fmt.Sprintf("model turn part %d: %v", i, err),
				})
				continue
			}
			if !ok {
				anomalies = append(anomalies, &ProtocolAnomaly{
					Reason: fmt.Sprintf("model turn part %d: unsupported inline data %q", i, blob.MIMEType),
				})
				continue
			}
			if len(blob.Data) == 0 {
				continue
			}
			if len(blob.Data)%2 != 0 {
				anomalies = append(anomalies, &ProtocolAnomaly{
					Reason: fmt.Sprintf("model turn part %d: odd PCM length %d", i, len(blob.Data)),
				})
				continue
			}

			out.Audio = append(out.Audio, AudioPart{Data: blob.Data, SampleRate: rate})
		}
	}

	return out, anomalies
}

// pcmRate parses "audio/pcm;rate=N". ok is false for any other media type.
func pcmRate(mimeType string) (rate int, ok bool, err error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, false, fmt.Errorf("malformed MIME type %q: %w", mimeType, err)
	}
	if !strings.EqualFold(mediaType, "audio/pcm") && !strings.EqualFold(mediaType, "audio/l16") {
		return 0, false, nil
	}

	raw, found := params["rate"]
	if !found {
		return DefaultOutputSampleRate, true, nil
	}
	rate, err = strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, false, fmt.Errorf("invalid sample rate %q", raw)
	}
	return rate, true, nil
}
