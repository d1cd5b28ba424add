// Package safety implements the crisis gate that screens every message before
// it reaches the remote model.
package safety

import (
	"fmt"
	"strings"
)

// DefaultPhrases are the self-harm indicators the gate screens for.
//
// Matching is a plain case-insensitive substring test, so "die" also fires on
// "diet" or "studied". False positives are accepted; there is no stemming or
// multilingual handling.
var DefaultPhrases = []string{
	"suicide",
	"kill myself",
	"end it all",
	"hurt myself",
	"die",
	"worthless",
}

// Detector scans free-form text for denylisted phrases. The zero value matches
// nothing. Safe for concurrent use.
type Detector struct {
	phrases []string
}

// NewDetector creates a detector over the given phrases.
func NewDetector(phrases ...string) *Detector {
	d := &Detector{phrases: make([]string, 0, len(phrases))}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			d.phrases = append(d.phrases, p)
		}
	}
	return d
}

// DefaultDetector returns a detector over DefaultPhrases.
func DefaultDetector() *Detector {
	return NewDetector(DefaultPhrases...)
}

// Scan reports whether text contains any denylisted phrase.
func (d *Detector) Scan(text string) bool {
	_, ok := d.Match(text)
	return ok
}

// Match returns the first denylisted phrase found in text.
func (d *Detector) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range d.phrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

// Resource is a crisis helpline.
type Resource struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Note   string `json:"note,omitempty"`
}

// Resources are the helplines listed in every crisis response.
var Resources = []Resource{
	{Name: "India - Suicide Prevention", Number: "104", Note: "24/7"},
	{Name: "KIRAN Mental Health", Number: "1800-599-0019"},
	{Name: "Vandrevala Foundation", Number: "9999666555"},
	{Name: "iCall Psychosocial Helpline", Number: "9152987821"},
}

// Response renders the static safety message. It is never personalised and
// never sent to the remote model.
func Response() string {
	var b strings.Builder
	b.WriteString("🚨 I'm concerned about what you've shared. Your feelings are valid, but help is available.\n\n")
	b.WriteString("**Please reach out immediately:**\n")
	for _, r := range Resources {
		if r.Note != "" {
			fmt.Fprintf(&b, "- **%s**: %s (%s)\n", r.Name, r.Number, r.Note)
			continue
		}
		fmt.Fprintf(&b, "- **%s**: %s\n", r.Name, r.Number)
	}
	b.WriteString("\nYou don't have to face this alone. Would you like to talk about what's making you feel this way?")
	return b.String()
}
