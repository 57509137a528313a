package detect

import (
	"testing"

	"github.com/lukasbauer/callguard/internal/protocol"
	"github.com/rs/zerolog"
)

func TestCheckText_Keywords(t *testing.T) {
	d := New(Config{}, zerolog.Nop())

	tests := []struct {
		name       string
		text       string
		wantFraud  bool
		wantReason string
	}{
		{"list order wins", "please verify your bank account otp", true, "Suspicious keyword detected: OTP"},
		{"case insensitive", "this is the POLICE department", true, "Suspicious keyword detected: Police"},
		{"substring", "unblocking your card", true, "Suspicious keyword detected: Block"},
		{"hindi", "यह चेतावनी है", true, "Suspicious keyword detected: चेतावनी"},
		{"bank before verify", "verify with the bank", true, "Suspicious keyword detected: Bank"},
		{"clean", "hi mom, dinner at six?", false, ""},
		{"empty", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.CheckText(tt.text)
			if ok != tt.wantFraud || got.IsFraud != tt.wantFraud {
				t.Fatalf("CheckText(%q) ok = %v, IsFraud = %v, want %v", tt.text, ok, got.IsFraud, tt.wantFraud)
			}
			if !tt.wantFraud {
				return
			}
			if got.Confidence != KeywordConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, KeywordConfidence)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if got.Source != SourceKeyword {
				t.Errorf("Source = %q, want keyword", got.Source)
			}
		})
	}
}

func TestSetKeywords_CustomOrder(t *testing.T) {
	d := New(Config{Keywords: []string{" account ", "", "otp"}}, zerolog.Nop())

	got, ok := d.CheckText("please verify your bank account otp")
	if !ok {
		t.Fatal("expected match")
	}
	if got.Reason != "Suspicious keyword detected: account" {
		t.Errorf("Reason = %q", got.Reason)
	}
	if len(d.Keywords()) != 2 {
		t.Errorf("Keywords() = %v, want 2 entries", d.Keywords())
	}

	d.SetKeywords(nil)
	if len(d.Keywords()) != len(DefaultKeywords()) {
		t.Errorf("SetKeywords(nil) should restore defaults, got %v", d.Keywords())
	}
}

func TestInterpret_ServerAlert(t *testing.T) {
	d := New(Config{}, zerolog.Nop())

	tests := []struct {
		name           string
		raw            string
		wantConfidence float64
		wantReason     string
	}{
		{
			name:           "high severity",
			raw:            `{"type":"FRAUD_ALERT","severity":"HIGH","keywords":["OTP","bank"],"transcript":"tell me the otp"}`,
			wantConfidence: 0.95,
			wantReason:     "Server Alert (HIGH): Detected OTP, bank in 'tell me the otp'",
		},
		{
			name:           "medium severity",
			raw:            `{"type":"FRAUD_ALERT","severity":"MEDIUM","keywords":"police","transcript":"police here"}`,
			wantConfidence: 0.80,
			wantReason:     "Server Alert (MEDIUM): Detected police in 'police here'",
		},
		{
			name:           "lowercase high is not high",
			raw:            `{"type":"FRAUD_ALERT","severity":"high","keywords":"x","transcript":"y"}`,
			wantConfidence: 0.80,
			wantReason:     "Server Alert (high): Detected x in 'y'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.Interpret([]byte(tt.raw))
			if !ok || !got.IsFraud {
				t.Fatalf("Interpret() ok = %v, IsFraud = %v", ok, got.IsFraud)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if got.Source != SourceServer {
				t.Errorf("Source = %q, want server", got.Source)
			}
		})
	}
}

func TestInterpret_TranscriptFiresHeard(t *testing.T) {
	var heard []string
	d := New(Config{OnHeard: func(text string) { heard = append(heard, text) }}, zerolog.Nop())

	got, ok := d.Interpret([]byte(`{"type":"transcript","transcript":{"transcript":"your account is blocked"}}`))
	if !ok {
		t.Fatal("expected keyword verdict")
	}
	if got.Keyword != "Account" {
		t.Errorf("Keyword = %q, want Account", got.Keyword)
	}

	if _, ok := d.Interpret([]byte(`{"type":"transcript","transcript":"nice weather"}`)); ok {
		t.Error("clean transcript should not produce a verdict")
	}
	if _, ok := d.Interpret([]byte(`{"type":"transcript","transcript":""}`)); ok {
		t.Error("empty transcript should not produce a verdict")
	}

	if len(heard) != 2 {
		t.Fatalf("heard = %v, want 2 entries", heard)
	}
	if heard[0] != "your account is blocked" || heard[1] != "nice weather" {
		t.Errorf("heard = %v", heard)
	}
}

func TestInterpret_NoVerdict(t *testing.T) {
	d := New(Config{}, zerolog.Nop())

	for _, raw := range []string{
		`{"type":"speech-update","status":"started"}`,
		`{"type":"error","error":"boom"}`,
		`{"type":"conversation-update"}`,
		`garbage`,
		``,
	} {
		if _, ok := d.Interpret([]byte(raw)); ok {
			t.Errorf("Interpret(%q) produced a verdict", raw)
		}
	}
}

func TestServerAlert_Direct(t *testing.T) {
	got := ServerAlert(protocol.FraudAlert{Severity: "HIGH", Keywords: "OTP", Transcript: "t"})
	if got.Confidence != ServerHighConfidence {
		t.Errorf("Confidence = %v", got.Confidence)
	}
}
