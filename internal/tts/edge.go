package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Edge read-aloud service constants. The trusted client token is the
// fixed token the Edge browser itself uses; the service accepts it
// without an account.
const (
	edgeWSURL        = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	edgeClientToken  = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	edgeOutputFormat = "audio-24khz-48kbitrate-mono-mp3"

	// DefaultEdgeVoice is a friendly, warm voice that suits a wellness
	// companion.
	DefaultEdgeVoice = "en-US-JennyNeural"

	edgeHandshakeTimeout = 10 * time.Second
	edgeReadTimeout      = 30 * time.Second
)

// edgeSynthesizer speaks the Edge read-aloud WebSocket protocol: one
// JSON config frame, one SSML frame, then binary audio frames until a
// turn.end marker.
type edgeSynthesizer struct {
	voice  string
	wsURL  string
	logger *slog.Logger
}

func newEdge(voice string, logger *slog.Logger) *edgeSynthesizer {
	if voice == "" {
		voice = DefaultEdgeVoice
	}
	return &edgeSynthesizer{
		voice:  voice,
		wsURL:  edgeWSURL,
		logger: logger,
	}
}

func (e *edgeSynthesizer) Provider() string { return ProviderEdge }

func (e *edgeSynthesizer) Available() bool { return true }

func (e *edgeSynthesizer) Synthesize(ctx context.Context, text string) (*Artifact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("edge: empty text: %w", ErrUnavailable)
	}

	connID := strings.ReplaceAll(uuid.NewString(), "-", "")
	url := e.wsURL + "?TrustedClientToken=" + edgeClientToken + "&ConnectionId=" + connID

	dialer := websocket.Dialer{HandshakeTimeout: edgeHandshakeTimeout}
	header := http.Header{}
	header.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("edge: dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("edge: dial: %w", err)
	}
	defer conn.Close()

	ts := time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")

	cfg := "X-Timestamp:" + ts + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + edgeOutputFormat + `"}}}}` + "\r\n"
	if err := conn.WriteMessage(websocket.TextMessage, []byte(cfg)); err != nil {
		return nil, fmt.Errorf("edge: send config: %w", err)
	}

	ssml := "<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>" +
		"<voice name='" + e.voice + "'>" +
		"<prosody pitch='+0Hz' rate='+0%' volume='+0%'>" + escapeXML(text) + "</prosody>" +
		"</voice></speak>"
	msg := "X-RequestId:" + connID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + ts + "\r\n" +
		"Path:ssml\r\n\r\n" + ssml
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return nil, fmt.Errorf("edge: send ssml: %w", err)
	}

	f, err := os.CreateTemp("", "elai-tts-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("edge: temp file: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}

	deadline := time.Now().Add(edgeReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("edge: read: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			payload, ok := audioPayload(data)
			if !ok {
				continue
			}
			if _, err := f.Write(payload); err != nil {
				cleanup()
				return nil, fmt.Errorf("edge: write audio: %w", err)
			}
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				if err := f.Close(); err != nil {
					os.Remove(f.Name())
					return nil, fmt.Errorf("edge: close audio: %w", err)
				}
				art := newArtifact(f.Name(), "audio/mpeg")
				if art.Size == 0 {
					art.Release()
					return nil, fmt.Errorf("edge: no audio received: %w", ErrUnavailable)
				}
				e.logger.Info("edge audio generated",
					"voice", e.voice,
					"path", art.Path,
					"bytes", art.Size,
				)
				return art, nil
			}
		}
	}
}

// audioPayload strips the binary frame header and returns the audio
// bytes. The first two bytes are the big-endian header length; the
// header must carry Path:audio for the frame to contain audio.
func audioPayload(frame []byte) ([]byte, bool) {
	if len(frame) < 2 {
		return nil, false
	}
	headerLen := int(binary.BigEndian.Uint16(frame[:2]))
	if len(frame) < 2+headerLen {
		return nil, false
	}
	header := frame[2 : 2+headerLen]
	if !strings.Contains(string(header), "Path:audio") {
		return nil, false
	}
	return frame[2+headerLen:], true
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"'", "&apos;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}
