// Package edge provides a TTS provider backed by Microsoft Edge's free
// neural-voice synthesis endpoint. It implements the tts.Provider interface.
//
// The service speaks a small framed protocol over a WebSocket: the client
// sends a speech.config message and an SSML request, then collects binary
// frames whose header carries Path:audio until a turn.end text frame arrives.
package edge

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/omniglot-dev/dubbler/pkg/provider/tts"
)

const (
	wsEndpointFmt = "wss://speech.platform.bing.com/consumer/speech/synthesize/" +
		"readaloud/edge/v1?TrustedClientToken=%s&ConnectionId=%s"
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	defaultOutputFormat = "audio-24khz-48kbitrate-mono-mp3"
	defaultVoice        = "en-AU-WilliamNeural"
)

// defaultVoices maps ISO 639-1 language codes to Edge neural voices. Languages
// not listed here fall back to defaultVoice.
var defaultVoices = map[string]string{
	"en": "en-AU-WilliamNeural",
	"hi": "hi-IN-MadhurNeural",
	"es": "es-ES-AlvaroNeural",
	"fr": "fr-FR-HenriNeural",
	"de": "de-DE-ConradNeural",
	"it": "it-IT-DiegoNeural",
	"pt": "pt-BR-AntonioNeural",
	"ru": "ru-RU-DmitryNeural",
	"ja": "ja-JP-KeitaNeural",
	"ko": "ko-KR-InJoonNeural",
	"zh": "zh-CN-YunxiNeural",
	"nl": "nl-NL-MaartenNeural",
	"tr": "tr-TR-AhmetNeural",
	"pl": "pl-PL-MarekNeural",
	"id": "id-ID-ArdiNeural",
	"th": "th-TH-NiwatNeural",
	"vi": "vi-VN-NamMinhNeural",
}

// Option is a functional option for configuring the Edge Provider.
type Option func(*Provider)

// WithVoices overrides or extends the default language→voice table. Entries
// merge over the defaults; an empty value removes the default for that code.
func WithVoices(voices map[string]string) Option {
	return func(p *Provider) {
		for lang, voice := range voices {
			if voice == "" {
				delete(p.voices, strings.ToLower(lang))
				continue
			}
			p.voices[strings.ToLower(lang)] = voice
		}
	}
}

// WithRate sets the speaking rate as an SSML prosody value (e.g., "+10%").
func WithRate(rate string) Option {
	return func(p *Provider) { p.rate = rate }
}

// WithDefaultVoice replaces the voice used for languages missing from the
// table. An empty value disables the fallback: Synthesize then fails with
// [tts.ErrNoVoice] for unmapped languages instead of speaking them in
// English.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) { p.fallback = voice }
}

// Provider implements tts.Provider backed by the Edge read-aloud endpoint.
type Provider struct {
	voices   map[string]string
	fallback string
	rate     string
}

// New creates a new Edge Provider. The endpoint needs no API key.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		voices:   make(map[string]string, len(defaultVoices)),
		fallback: defaultVoice,
		rate:     "+0%",
	}
	for lang, voice := range defaultVoices {
		p.voices[lang] = voice
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// OutputFormat implements tts.Provider. Edge always returns MP3 here.
func (p *Provider) OutputFormat() string { return "audio/mpeg" }

// Synthesize implements tts.Provider. It opens a fresh WebSocket per call;
// the endpoint closes connections after each turn anyway, so pooling buys
// nothing.
func (p *Provider) Synthesize(ctx context.Context, text string, lang string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("edge: text must not be empty")
	}
	voice := p.voiceFor(lang)
	if voice == "" {
		return nil, fmt.Errorf("edge: language %q: %w", lang, tts.ErrNoVoice)
	}

	connID, err := randomHexID()
	if err != nil {
		return nil, fmt.Errorf("edge: connection id: %w", err)
	}
	wsURL := fmt.Sprintf(wsEndpointFmt, trustedClientToken, connID)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Origin": {"chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("edge: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	// Segments are short; a single clip should never exceed this.
	conn.SetReadLimit(4 << 20)

	if err := conn.Write(ctx, websocket.MessageText, buildConfigMessage(defaultOutputFormat)); err != nil {
		return nil, fmt.Errorf("edge: send speech.config: %w", err)
	}

	reqID, err := randomHexID()
	if err != nil {
		return nil, fmt.Errorf("edge: request id: %w", err)
	}
	ssml := buildSSML(text, voice, lang, p.rate)
	if err := conn.Write(ctx, websocket.MessageText, buildSSMLMessage(reqID, ssml)); err != nil {
		return nil, fmt.Errorf("edge: send ssml: %w", err)
	}

	var audio bytes.Buffer
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("edge: read: %w", err)
		}
		switch typ {
		case websocket.MessageBinary:
			payload, err := parseBinaryFrame(msg)
			if err != nil {
				return nil, fmt.Errorf("edge: %w", err)
			}
			audio.Write(payload)
		case websocket.MessageText:
			if framePath(msg) == "turn.end" {
				if audio.Len() == 0 {
					return nil, errors.New("edge: turn ended without audio")
				}
				return audio.Bytes(), nil
			}
		}
	}
}

// voiceFor resolves the configured voice for lang. Returns the fallback
// voice for unknown languages, which is empty when the fallback is disabled.
func (p *Provider) voiceFor(lang string) string {
	if voice, ok := p.voices[strings.ToLower(lang)]; ok {
		return voice
	}
	return p.fallback
}

// ---- protocol framing ----

// buildConfigMessage renders the speech.config text frame that selects the
// output format for the connection.
func buildConfigMessage(outputFormat string) []byte {
	var b strings.Builder
	b.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	b.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	b.WriteString("Path:speech.config\r\n\r\n")
	b.WriteString(`{"context":{"synthesis":{"audio":{"metadataoptions":` +
		`{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},` +
		`"outputFormat":"` + outputFormat + `"}}}}`)
	return []byte(b.String())
}

// buildSSMLMessage renders the ssml text frame carrying one synthesis request.
func buildSSMLMessage(requestID, ssml string) []byte {
	var b strings.Builder
	b.WriteString("X-RequestId:" + requestID + "\r\n")
	b.WriteString("Content-Type:application/ssml+xml\r\n")
	b.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	b.WriteString("Path:ssml\r\n\r\n")
	b.WriteString(ssml)
	return []byte(b.String())
}

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// buildSSML wraps text in the minimal SSML document the endpoint accepts.
func buildSSML(text, voice, lang, rate string) string {
	return fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'>`+
			`<voice name='%s'><prosody pitch='+0Hz' rate='%s' volume='+0%%'>%s</prosody></voice></speak>`,
		lang, voice, rate, ssmlEscaper.Replace(text),
	)
}

// parseBinaryFrame splits a binary frame into header and payload. The first
// two bytes are the big-endian header length; audio payload follows the
// header. Frames whose header does not carry Path:audio are skipped by
// returning an empty payload.
func parseBinaryFrame(msg []byte) ([]byte, error) {
	if len(msg) < 2 {
		return nil, errors.New("binary frame too short")
	}
	headerLen := int(binary.BigEndian.Uint16(msg[:2]))
	if len(msg) < 2+headerLen {
		return nil, fmt.Errorf("binary frame header length %d exceeds frame size %d", headerLen, len(msg))
	}
	header := string(msg[2 : 2+headerLen])
	if !strings.Contains(header, "Path:audio") {
		return nil, nil
	}
	return msg[2+headerLen:], nil
}

// framePath extracts the Path header value from a text frame.
func framePath(msg []byte) string {
	head, _, _ := strings.Cut(string(msg), "\r\n\r\n")
	for _, line := range strings.Split(head, "\r\n") {
		if value, ok := strings.CutPrefix(line, "Path:"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// timestamp renders the X-Timestamp header value the endpoint expects.
func timestamp() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05") + " GMT+0000 (Coordinated Universal Time)"
}

// randomHexID returns a 32-character lowercase hex identifier.
func randomHexID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
