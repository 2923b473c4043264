package controller

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/argus-audit/argus/pkg/models"
	"github.com/argus-audit/argus/pkg/tools"
)

// RawKey is the sentinel key carrying payload text that defeated every
// decode strategy, so the loop can show the model exactly what it received.
const RawKey = "_raw"

// Parsed is the structured form of one model turn: either a tool step
// (Thought + Action + ActionInput) or a conclusion (Final Answer).
type Parsed struct {
	// Thought is the reasoning text preceding the action or final answer.
	Thought string

	// Action fields, populated when the model asked for a tool call.
	HasAction   bool
	Action      string
	ActionInput map[string]any
	// RawInput is the Action Input text exactly as the model wrote it.
	RawInput string
	// InputMalformed marks an action payload no decode strategy could
	// rescue; ActionInput then holds the raw text under RawKey.
	InputMalformed bool

	// Final answer fields, populated when the model concluded.
	IsFinal bool
	Answer  map[string]any
	// AnswerText is the Final Answer tail before decoding.
	AnswerText string
	// AnswerMalformed marks a final answer that was not decodable JSON;
	// Answer then holds the raw text under RawKey.
	AnswerMalformed bool

	// Malformed marks a response with no usable action or final answer.
	Malformed bool

	// FoundSections records which headers were detected, for targeted
	// format feedback.
	FoundSections map[string]bool
}

// Mid-line header detection requires a sentence boundary before the header
// so prose that merely mentions "Action:" is not split.
var (
	midlineActionPattern      = regexp.MustCompile(`[.!?][\x60\s*]*Action:`)
	midlineFinalAnswerPattern = regexp.MustCompile(`[.!?][\x60\s*]*Final Answer:`)
	midlineActionInputPattern = regexp.MustCompile(`[.!?][\x60\s*]*Action Input:`)

	actionNamePattern = regexp.MustCompile(`^[A-Za-z][\w\-]*$`)

	recoverInputPattern = regexp.MustCompile(`(?i)Action Input:`)
	recoverActionColon  = regexp.MustCompile(`(?i)\bAction:`)
	recoverActionBare   = regexp.MustCompile(`(?i)\bAction(?:\s|$)`)
)

// Parse splits one model response into its sections and decodes the JSON
// payloads. It is deliberately forgiving: models drift from the format in
// predictable ways (mid-sentence headers, fenced JSON, truncated objects)
// and each gets a recovery path before the response is declared malformed.
func Parse(text string) *Parsed {
	p := &Parsed{FoundSections: map[string]bool{
		"thought":      false,
		"action":       false,
		"action_input": false,
		"final_answer": false,
	}}
	if strings.TrimSpace(text) == "" {
		p.Malformed = true
		return p
	}

	secs := scanSections(text)
	p.Thought = secs.get(secThought)
	p.FoundSections = map[string]bool{
		"thought":      secs.has(secThought),
		"action":       secs.has(secAction),
		"action_input": secs.has(secActionInput),
		"final_answer": secs.has(secFinalAnswer),
	}

	// An action with an input section wins over a final answer. Nothing
	// legitimate follows Final Answer, so a trailing action means the
	// model changed its mind mid-response.
	if secs.has(secAction) && secs.has(secActionInput) {
		action := strings.TrimSpace(secs.get(secAction))
		if action == "" {
			p.Malformed = true
			return p
		}
		p.HasAction = true
		p.Action = action
		p.RawInput = secs.get(secActionInput)
		var ok bool
		p.ActionInput, ok = DecodePayload(p.RawInput)
		p.InputMalformed = !ok
		return p
	}

	if tail := secs.get(secFinalAnswer); secs.has(secFinalAnswer) && tail != "" {
		p.IsFinal = true
		p.AnswerText = tail
		var ok bool
		p.Answer, ok = DecodeAnswer(tail)
		p.AnswerMalformed = !ok
		return p
	}

	p.Malformed = true
	return p
}

type sectionKind int

const (
	secNone sectionKind = iota
	secThought
	secAction
	secActionInput
	secFinalAnswer
)

// sectionSet holds section content keyed by kind. A missing entry means the
// header never appeared; present-but-empty matters, since a tool call with
// no arguments has an empty Action Input section.
type sectionSet map[sectionKind]*string

func (s sectionSet) has(k sectionKind) bool { return s[k] != nil }

func (s sectionSet) get(k sectionKind) string {
	if v := s[k]; v != nil {
		return *v
	}
	return ""
}

func (s sectionSet) put(k sectionKind, v string) { s[k] = &v }

// sectionScanner walks the response line by line, opening and closing
// sections as headers appear.
type sectionScanner struct {
	out     sectionSet
	current sectionKind
	buf     []string
	seen    map[sectionKind]bool
}

func scanSections(text string) sectionSet {
	sc := &sectionScanner{
		out:  sectionSet{},
		seen: map[sectionKind]bool{},
	}
	for _, raw := range strings.Split(strings.TrimSpace(text), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" && sc.current == secNone {
			continue
		}
		if hallucinatedObservation(line) {
			break
		}
		sc.consume(line)
	}
	sc.flush()

	// Action Input without Action is usually a formatting slip, not a
	// missing decision: search backwards for the name.
	if sc.out.has(secActionInput) && !sc.out.has(secAction) {
		if recovered := recoverActionName(text); recovered != "" {
			sc.out.put(secAction, recovered)
		}
	}
	return sc.out
}

func (sc *sectionScanner) consume(line string) {
	switch {
	case sc.isHeader(line, secFinalAnswer):
		// A final answer can start mid-line inside a thought; keep the
		// prose before the header.
		if sc.current == secThought {
			if before, ok := splitBeforeMidline(line, midlineFinalAnswerPattern); ok && before != "" {
				sc.buf = append(sc.buf, before)
			}
		}
		sc.open(secFinalAnswer, afterMarker(line, "Final Answer:"))

	case sc.isHeader(line, secThought):
		sc.openThought(line)

	case sc.isHeader(line, secAction):
		sc.open(secAction, afterMarker(line, "Action:"))
		// A fresh Action may carry its own Action Input.
		delete(sc.seen, secActionInput)

	case sc.isHeader(line, secActionInput):
		sc.open(secActionInput, afterMarker(line, "Action Input:"))

	case sc.current != secNone:
		if sc.current == secThought && hasMidline(line, "Final Answer:", midlineFinalAnswerPattern) {
			sc.splitFinalFromThought(line)
			return
		}
		sc.buf = append(sc.buf, line)
	}
}

// openThought handles the Thought header, which can carry a mid-line Final
// Answer or Action on the same line.
func (sc *sectionScanner) openThought(line string) {
	if line == "Thought" {
		// Header without a colon; content follows on later lines.
		sc.open(secThought, "")
		return
	}
	tail := afterMarker(line, "Thought:")
	switch {
	case hasMidline(tail, "Final Answer:", midlineFinalAnswerPattern):
		before, _ := splitBeforeMidline(tail, midlineFinalAnswerPattern)
		sc.flush()
		sc.out.put(secThought, before)
		sc.seen[secThought] = true
		answer := afterMarker(tail, "Final Answer:")
		sc.out.put(secFinalAnswer, answer)
		sc.seen[secFinalAnswer] = true
		sc.current = secFinalAnswer
		sc.buf = []string{answer}

	case hasMidline(tail, "Action:", midlineActionPattern):
		before, _ := splitBeforeMidline(tail, midlineActionPattern)
		sc.flush()
		sc.out.put(secThought, before)
		sc.seen[secThought] = true
		sc.out.put(secAction, afterMarker(tail, "Action:"))
		sc.seen[secAction] = true
		sc.current = secNone
		sc.buf = nil

	default:
		sc.open(secThought, tail)
	}
}

// splitFinalFromThought handles a mid-line Final Answer appearing on a
// continuation line of a thought.
func (sc *sectionScanner) splitFinalFromThought(line string) {
	before, ok := splitBeforeMidline(line, midlineFinalAnswerPattern)
	if !ok {
		sc.buf = append(sc.buf, line)
		return
	}
	if before != "" {
		sc.buf = append(sc.buf, before)
	}
	sc.flush()
	answer := afterMarker(line, "Final Answer:")
	sc.out.put(secFinalAnswer, answer)
	sc.seen[secFinalAnswer] = true
	sc.current = secFinalAnswer
	sc.buf = []string{answer}
}

// open closes the current section and starts a new one.
func (sc *sectionScanner) open(kind sectionKind, first string) {
	sc.flush()
	sc.current = kind
	sc.seen[kind] = true
	sc.buf = []string{first}
}

// flush stores the buffered lines into the open section. Earlier non-empty
// content survives a later empty duplicate of the same section.
func (sc *sectionScanner) flush() {
	if sc.current == secNone || sc.buf == nil {
		return
	}
	content := strings.TrimSpace(strings.Join(sc.buf, "\n"))
	if content != "" || !sc.out.has(sc.current) {
		sc.out.put(sc.current, content)
	}
	sc.buf = nil
}

// isHeader applies three detection tiers: a line-start header, a mid-line
// Final Answer after a sentence boundary, and mid-line Action / Action
// Input fallbacks.
func (sc *sectionScanner) isHeader(line string, kind sectionKind) bool {
	if line == "" {
		return false
	}
	switch kind {
	case secThought:
		return strings.HasPrefix(line, "Thought:") || line == "Thought"

	case secAction:
		if strings.HasPrefix(line, "Action:") {
			return true
		}
		return hasMidline(line, "Action:", midlineActionPattern)

	case secActionInput:
		if strings.HasPrefix(line, "Action Input:") {
			return true
		}
		return sc.seen[secAction] && hasMidline(line, "Action Input:", midlineActionInputPattern)

	case secFinalAnswer:
		// The first Final Answer wins; later ones are prose.
		if sc.seen[secFinalAnswer] {
			return false
		}
		if strings.HasPrefix(line, "Final Answer:") {
			return true
		}
		// No mid-line detection on lines that open another section.
		if strings.HasPrefix(line, "Thought:") || line == "Thought" ||
			strings.HasPrefix(line, "Thought ") ||
			strings.HasPrefix(line, "Action:") || strings.HasPrefix(line, "Action Input:") {
			return false
		}
		return hasMidline(line, "Final Answer:", midlineFinalAnswerPattern)
	}
	return false
}

// hallucinatedObservation reports lines where the model started inventing
// tool output; everything after is untrustworthy.
func hallucinatedObservation(line string) bool {
	if strings.HasPrefix(line, "[Based on") {
		return true
	}
	if !strings.HasPrefix(line, "Observation:") {
		return false
	}
	// The model sometimes quotes an earlier corrective observation inside
	// its reasoning; those are ours, not invented tool output.
	if strings.Contains(line, "Please try again") || strings.Contains(line, "FORMAT ERROR") {
		return false
	}
	return true
}

func hasMidline(text, marker string, pattern *regexp.Regexp) bool {
	return strings.Contains(text, marker) && pattern.MatchString(text)
}

// splitBeforeMidline returns the prose before a mid-line header, keeping
// the sentence terminator.
func splitBeforeMidline(line string, pattern *regexp.Regexp) (string, bool) {
	loc := pattern.FindStringIndex(line)
	if loc == nil {
		return "", false
	}
	return strings.TrimSpace(line[:loc[0]+1]), true
}

// afterMarker returns the trimmed text following the first occurrence of
// marker.
func afterMarker(s, marker string) string {
	idx := strings.Index(s, marker)
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(s[idx+len(marker):])
}

// recoverActionName backtracks from "Action Input:" looking for the tool
// name when the Action header itself was mangled.
func recoverActionName(text string) string {
	loc := recoverInputPattern.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	before := text[:loc[0]]
	for _, pat := range []*regexp.Regexp{recoverActionColon, recoverActionBare} {
		matches := pat.FindAllStringIndex(before, -1)
		if len(matches) == 0 {
			continue
		}
		last := matches[len(matches)-1]
		candidate := strings.TrimSpace(before[last[1]:])
		candidate = strings.TrimSpace(strings.SplitN(candidate, "\n", 2)[0])
		if actionNamePattern.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}

// FormatErrorFeedback names exactly what is missing from a malformed
// response so the model can self-correct on the next turn.
func FormatErrorFeedback(p *Parsed) string {
	found := p.FoundSections
	var msg string
	switch {
	case found["action"] && !found["action_input"]:
		msg = "FORMAT ERROR: Your response has \"Action:\" but is missing \"Action Input:\".\n" +
			"Every \"Action:\" MUST be followed by \"Action Input:\" with a JSON object (use {} for tools without arguments)."
	case found["action_input"] && !found["action"]:
		msg = "FORMAT ERROR: Your response has \"Action Input:\" but is missing \"Action:\".\n" +
			"\"Action Input:\" must be preceded by \"Action:\" naming the tool to call."
	case found["thought"] && !found["action"] && !found["final_answer"]:
		msg = "FORMAT ERROR: Your response only contains \"Thought:\".\n" +
			"After reasoning you MUST either call a tool with \"Action:\" + \"Action Input:\" or conclude with \"Final Answer:\"."
	case !found["thought"] && !found["action"] && !found["final_answer"]:
		msg = "FORMAT ERROR: No recognizable sections in your response.\n" +
			"Use exactly: \"Thought:\", \"Action:\", \"Action Input:\", or \"Final Answer:\"."
	default:
		keys := []string{"thought", "action", "action_input", "final_answer"}
		var have, missing []string
		for _, k := range keys {
			if found[k] {
				have = append(have, k)
			} else {
				missing = append(missing, k)
			}
		}
		msg = fmt.Sprintf("FORMAT ERROR: Incomplete response.\nFound: %s\nMissing: %s",
			strings.Join(have, ", "), strings.Join(missing, ", "))
	}
	return msg + "\n\n" + FormatReminder()
}

// FormatReminder restates the expected output format. Appended after format
// errors and empty responses.
func FormatReminder() string {
	return `Respond using the exact format:

Thought: [your reasoning]
Action: [one tool name from the list]
Action Input: [JSON object with the tool's arguments]

Stop after Action Input; the system supplies the Observation. For tools
without arguments use an empty JSON object:

Action Input: {}

To conclude instead:

Thought: [closing reasoning]
Final Answer: [JSON object with your findings and summary]`
}

// FormatObservation renders a tool result as the observation turn.
func FormatObservation(res *tools.Result) string {
	if res == nil {
		return "Observation: Error - the tool produced no result. Please try again."
	}
	if !res.Success {
		if res.Data != nil {
			return fmt.Sprintf("Observation: Error - %s\nPartial output before the failure:\n%s",
				res.Error, renderData(res.Data))
		}
		return fmt.Sprintf("Observation: Error - %s", res.Error)
	}
	return "Observation: " + renderData(res.Data)
}

// FormatErrorObservation surfaces an LLM-call failure to the model itself,
// so a transient provider error becomes a visible retry rather than a
// silent gap in the conversation.
func FormatErrorObservation(err error) string {
	if err == nil {
		return "Observation: Error from previous attempt: unknown error. Please try again."
	}
	return fmt.Sprintf("Observation: Error from previous attempt: %s. Please try again.", err.Error())
}

// FormatUnknownToolObservation names the available tools so the model can
// pick a real one.
func FormatUnknownToolObservation(name string, available []string) string {
	if len(available) == 0 {
		return fmt.Sprintf("Observation: Error - unknown tool %q and no tools are registered. Conclude with Final Answer.", name)
	}
	return fmt.Sprintf("Observation: Error - unknown tool %q. Available tools: %s.",
		name, strings.Join(available, ", "))
}

// FormatRepeatFailureObservation is injected after the same tool fails
// several times in a row.
func FormatRepeatFailureObservation(tool string, failures int) string {
	return fmt.Sprintf("Observation: %s has now failed %d times in a row. "+
		"Change approach: adjust the arguments, use a different tool, or conclude with Final Answer based on what you have.",
		tool, failures)
}

// FormatIncomingMessages renders queued bus messages as an observation.
func FormatIncomingMessages(msgs []models.AgentMessage) string {
	var b strings.Builder
	b.WriteString("Observation: New messages arrived:\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "- from %s (%s, %s): %s\n", m.Sender, m.Type, m.Priority, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExtractForcedAnswer salvages a conclusion from the wrap-up turn, whether
// or not the model kept the format.
func ExtractForcedAnswer(p *Parsed) string {
	if p.IsFinal && p.AnswerText != "" {
		return p.AnswerText
	}
	return p.Thought
}

// renderData flattens tool output for the conversation. Strings pass
// through; everything else becomes indented JSON.
func renderData(data any) string {
	switch v := data.(type) {
	case nil:
		return "(no output)"
	case string:
		return v
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
