// Package detect turns inbound service messages and transcript text into
// fraud verdicts.
package detect

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lukasbauer/callguard/internal/protocol"
	"github.com/rs/zerolog"
)

// Verdict confidences.
const (
	KeywordConfidence    = 0.85
	ServerHighConfidence = 0.95
	ServerConfidence     = 0.80
)

// Source identifies what produced a Result.
type Source string

const (
	SourceKeyword Source = "keyword"
	SourceServer  Source = "server"
)

// Result is a fraud verdict. Only results with IsFraud set are returned by
// the Interpreter.
type Result struct {
	IsFraud    bool
	Confidence float64
	Reason     string
	Source     Source
	// Keyword is the matched term for keyword results, or the joined server
	// keywords for server alerts.
	Keyword string
}

// DefaultKeywords returns the scam-indicator terms in match priority order.
func DefaultKeywords() []string {
	return []string{
		"OTP",
		"Bank",
		"Police",
		"Verify",
		"Account",
		"Block",
		"Warning",
		"OTAC",
		"चेतावनी",
		"बैंक",
		"पुलिस",
		"खाता",
	}
}

// Config configures an Interpreter.
type Config struct {
	Keywords []string
	// OnHeard is called with every non-empty transcript received from the
	// service, before the keyword check runs.
	OnHeard func(text string)
}

// Interpreter is safe for concurrent use.
type Interpreter struct {
	log     zerolog.Logger
	onHeard func(string)

	mu       sync.RWMutex
	keywords []string
}

// New creates an Interpreter. An empty keyword list selects DefaultKeywords.
func New(cfg Config, logger zerolog.Logger) *Interpreter {
	i := &Interpreter{
		log:     logger.With().Str("component", "detect").Logger(),
		onHeard: cfg.OnHeard,
	}
	i.SetKeywords(cfg.Keywords)
	return i
}

// SetKeywords replaces the keyword list. Blank entries are dropped.
func (i *Interpreter) SetKeywords(keywords []string) {
	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		cleaned = DefaultKeywords()
	}

	i.mu.Lock()
	i.keywords = cleaned
	i.mu.Unlock()
}

// Keywords returns a copy of the active keyword list.
func (i *Interpreter) Keywords() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]string(nil), i.keywords...)
}

// Interpret handles one inbound text frame. Malformed payloads and
// non-verdict messages are logged and yield ok == false.
func (i *Interpreter) Interpret(raw []byte) (Result, bool) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformedMessage) {
			i.log.Warn().Err(err).Int("bytes", len(raw)).Msg("discarding inbound message")
		}
		return Result{}, false
	}
	return i.Handle(msg)
}

// Handle evaluates an already decoded message.
func (i *Interpreter) Handle(msg protocol.Message) (Result, bool) {
	switch m := msg.(type) {
	case protocol.Transcript:
		if m.Text == "" {
			return Result{}, false
		}
		i.log.Debug().Str("text", m.Text).Msg("transcript")
		if i.onHeard != nil {
			i.onHeard(m.Text)
		}
		return i.CheckText(m.Text)
	case protocol.FraudAlert:
		return ServerAlert(m), true
	case protocol.SpeechUpdate:
		i.log.Debug().RawJSON("raw", m.Raw).Msg("speech update")
	case protocol.Error:
		i.log.Error().Str("error", m.Message).Msg("analysis service reported error")
	case protocol.Unknown:
		i.log.Debug().Str("type", m.Type).Msg("ignoring message")
	}
	return Result{}, false
}

// CheckText runs the keyword heuristic. Matching is case-insensitive and the
// earliest keyword in list order wins.
func (i *Interpreter) CheckText(text string) (Result, bool) {
	if text == "" {
		return Result{}, false
	}
	i.mu.RLock()
	keywords := i.keywords
	i.mu.RUnlock()

	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return Result{
				IsFraud:    true,
				Confidence: KeywordConfidence,
				Reason:     "Suspicious keyword detected: " + keyword,
				Source:     SourceKeyword,
				Keyword:    keyword,
			}, true
		}
	}
	return Result{}, false
}

// ServerAlert converts a service fraud alert into a Result.
func ServerAlert(a protocol.FraudAlert) Result {
	confidence := ServerConfidence
	if a.Severity == protocol.SeverityHigh {
		confidence = ServerHighConfidence
	}
	return Result{
		IsFraud:    true,
		Confidence: confidence,
		Reason:     fmt.Sprintf("Server Alert (%s): Detected %s in '%s'", a.Severity, a.Keywords, a.Transcript),
		Source:     SourceServer,
		Keyword:    a.Keywords,
	}
}
