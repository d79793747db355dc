package edge

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/omniglot-dev/dubbler/pkg/provider/tts"
)

// ---- frame construction ----

func TestBuildConfigMessage(t *testing.T) {
	msg := string(buildConfigMessage("audio-24khz-48kbitrate-mono-mp3"))

	head, body, found := strings.Cut(msg, "\r\n\r\n")
	if !found {
		t.Fatal("expected header/body separator in speech.config frame")
	}
	if !strings.Contains(head, "Path:speech.config") {
		t.Errorf("expected Path:speech.config header, got: %s", head)
	}
	if !strings.Contains(head, "Content-Type:application/json") {
		t.Errorf("expected JSON content type, got: %s", head)
	}
	if !strings.Contains(body, `"outputFormat":"audio-24khz-48kbitrate-mono-mp3"`) {
		t.Errorf("expected output format in body, got: %s", body)
	}
}

func TestBuildSSMLMessage(t *testing.T) {
	msg := string(buildSSMLMessage("req-1234", "<speak>hi</speak>"))

	head, body, found := strings.Cut(msg, "\r\n\r\n")
	if !found {
		t.Fatal("expected header/body separator in ssml frame")
	}
	if !strings.Contains(head, "X-RequestId:req-1234") {
		t.Errorf("expected request id header, got: %s", head)
	}
	if !strings.Contains(head, "Path:ssml") {
		t.Errorf("expected Path:ssml header, got: %s", head)
	}
	if body != "<speak>hi</speak>" {
		t.Errorf("expected SSML body, got: %s", body)
	}
}

func TestBuildSSML_EscapesText(t *testing.T) {
	ssml := buildSSML(`Tom & Jerry <3 "quotes"`, "en-AU-WilliamNeural", "en", "+0%")

	if strings.Contains(ssml, "& Jerry") {
		t.Errorf("expected escaped ampersand, got: %s", ssml)
	}
	if !strings.Contains(ssml, "Tom &amp; Jerry &lt;3 &quot;quotes&quot;") {
		t.Errorf("expected escaped text, got: %s", ssml)
	}
	if !strings.Contains(ssml, "name='en-AU-WilliamNeural'") {
		t.Errorf("expected voice name attribute, got: %s", ssml)
	}
	if !strings.Contains(ssml, "xml:lang='en'") {
		t.Errorf("expected language attribute, got: %s", ssml)
	}
}

// ---- frame parsing ----

func binaryFrame(header string, payload []byte) []byte {
	frame := make([]byte, 2+len(header)+len(payload))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(header)))
	copy(frame[2:], header)
	copy(frame[2+len(header):], payload)
	return frame
}

func TestParseBinaryFrame_Audio(t *testing.T) {
	payload := []byte{0xff, 0xfb, 0x90, 0x00} // MP3 frame sync
	frame := binaryFrame("X-RequestId:abc\r\nPath:audio\r\n", payload)

	got, err := parseBinaryFrame(frame)
	if err != nil {
		t.Fatalf("parseBinaryFrame: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("expected payload %v, got %v", payload, got)
	}
}

func TestParseBinaryFrame_NonAudioPath(t *testing.T) {
	frame := binaryFrame("Path:metadata\r\n", []byte("ignored"))

	got, err := parseBinaryFrame(frame)
	if err != nil {
		t.Fatalf("parseBinaryFrame: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil payload for non-audio frame, got %v", got)
	}
}

func TestParseBinaryFrame_TooShort(t *testing.T) {
	if _, err := parseBinaryFrame([]byte{0x00}); err == nil {
		t.Error("expected error for frame shorter than header length prefix")
	}
}

func TestParseBinaryFrame_HeaderOverrun(t *testing.T) {
	frame := []byte{0xff, 0xff, 'a', 'b'} // claims 65535-byte header
	if _, err := parseBinaryFrame(frame); err == nil {
		t.Error("expected error when header length exceeds frame size")
	}
}

func TestFramePath(t *testing.T) {
	msg := []byte("X-RequestId:abc\r\nPath:turn.end\r\nContent-Type:application/json\r\n\r\n{}")
	if got := framePath(msg); got != "turn.end" {
		t.Errorf("expected path 'turn.end', got %q", got)
	}
}

func TestFramePath_Missing(t *testing.T) {
	if got := framePath([]byte("Content-Type:application/json\r\n\r\n{}")); got != "" {
		t.Errorf("expected empty path, got %q", got)
	}
}

// ---- voice resolution ----

func TestVoiceFor_KnownLanguage(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.voiceFor("hi"); got != "hi-IN-MadhurNeural" {
		t.Errorf("expected Hindi voice, got %q", got)
	}
	if got := p.voiceFor("HI"); got != "hi-IN-MadhurNeural" {
		t.Errorf("expected case-insensitive lookup, got %q", got)
	}
}

func TestVoiceFor_UnknownFallsBack(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.voiceFor("xx"); got != defaultVoice {
		t.Errorf("expected default voice for unknown language, got %q", got)
	}
}

func TestNew_WithVoices(t *testing.T) {
	p, err := New(WithVoices(map[string]string{
		"hi": "hi-IN-SwaraNeural",
		"en": "",
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.voiceFor("hi"); got != "hi-IN-SwaraNeural" {
		t.Errorf("expected overridden Hindi voice, got %q", got)
	}
	// Removing "en" drops it to the package-wide default.
	if got := p.voiceFor("en"); got != defaultVoice {
		t.Errorf("expected default voice after removal, got %q", got)
	}
}

func TestNew_WithDefaultVoice(t *testing.T) {
	p, err := New(WithDefaultVoice("de-DE-KatjaNeural"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.voiceFor("xx"); got != "de-DE-KatjaNeural" {
		t.Errorf("expected replaced fallback voice, got %q", got)
	}
}

func TestSynthesize_NoVoice(t *testing.T) {
	p, err := New(WithDefaultVoice(""))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Voice resolution fails before any network I/O.
	_, err = p.Synthesize(context.Background(), "hello", "xx")
	if !errors.Is(err, tts.ErrNoVoice) {
		t.Errorf("expected ErrNoVoice with the fallback disabled, got %v", err)
	}
}

func TestOutputFormat(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.OutputFormat(); got != "audio/mpeg" {
		t.Errorf("expected audio/mpeg, got %q", got)
	}
}

func TestRandomHexID(t *testing.T) {
	a, err := randomHexID()
	if err != nil {
		t.Fatalf("randomHexID: %v", err)
	}
	b, err := randomHexID()
	if err != nil {
		t.Fatalf("randomHexID: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("expected 32-char id, got %d chars", len(a))
	}
	if a == b {
		t.Error("expected distinct ids across calls")
	}
}
