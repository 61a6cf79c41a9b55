// Package command parses the inbound text protocol into structured intents.
// Keywords are case-insensitive; everything inside a command is free-form.
package command

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foliodesk/be-folio-core/internal/errors"
)

// Intent identifies a parsed command.
type Intent string

const (
	IntentCreateFolio           Intent = "create_folio"
	IntentStatus                Intent = "status"
	IntentApprove               Intent = "approve"
	IntentApproveOverride       Intent = "approve_override"
	IntentSelect                Intent = "select"
	IntentCancel                Intent = "cancel"
	IntentAuthorizeCancellation Intent = "authorize_cancellation"
	IntentRejectCancellation    Intent = "reject_cancellation"
	IntentHistory               Intent = "history"
	IntentComment               Intent = "comment"
	IntentAttach                Intent = "attach"
	IntentRequestPayment        Intent = "request_payment"
	IntentMarkPaid              Intent = "mark_paid"
	IntentCloseFolio            Intent = "close_folio"
	IntentCreateProject         Intent = "create_project"
	IntentProjectsFor           Intent = "projects_for"
	IntentApproveProject        Intent = "approve_project"
	IntentCloseProject          Intent = "close_project"
	IntentCancelProject         Intent = "cancel_project"
	IntentConfirmProjectCancel  Intent = "confirm_project_cancellation"
	IntentUnknown               Intent = "unknown"
)

// FolioFields carries the inline fields of a create-folio command.
type FolioFields struct {
	Purpose     string
	Beneficiary string
	Category    string
	Subcategory string
	UnitRef     string
	ProjectCode string
	Amount      decimal.Decimal
	HasAmount   bool
	Urgent      bool
}

// ProjectFields carries the inline fields of a create-project command.
type ProjectFields struct {
	Name      string
	OrgUnit   string
	StartDate time.Time
	EndDate   *time.Time
}

// Command is one parsed inbound instruction.
type Command struct {
	Intent  Intent
	Code    string   // single-record commands
	Codes   []string // status / approve token lists, order preserved
	Reason  string
	Text    string // comment body
	OrgUnit string // projects for <unit>
	Folio   *FolioFields
	Project *ProjectFields
}

// Parse turns an inbound message body into a Command. Unrecognized input
// yields IntentUnknown with no error; malformed recognized commands yield a
// Validation error.
func Parse(body string) (*Command, error) {
	text := strings.TrimSpace(body)
	if text == "" {
		return &Command{Intent: IntentUnknown}, nil
	}
	lower := strings.ToLower(text)

	// Longest keyword first so "approve project" never parses as "approve".
	switch {
	case hasKeyword(lower, "confirm cancellation project"):
		return singleCode(IntentConfirmProjectCancel, text, "confirm cancellation project")
	case hasKeyword(lower, "authorize cancellation"):
		return singleCode(IntentAuthorizeCancellation, text, "authorize cancellation")
	case hasKeyword(lower, "reject cancellation"):
		return codeWithReason(IntentRejectCancellation, text, "reject cancellation", true)
	case hasKeyword(lower, "approve_override"):
		return codeWithReason(IntentApproveOverride, text, "approve_override", true)
	case hasKeyword(lower, "approve project"):
		return singleCode(IntentApproveProject, text, "approve project")
	case hasKeyword(lower, "create folio"):
		return parseCreateFolio(text)
	case hasKeyword(lower, "create project"):
		return parseCreateProject(text)
	case hasKeyword(lower, "projects for"):
		rest := rest(text, "projects for")
		if rest == "" {
			return nil, errors.InvalidInput("unit", "usage: projects for <unit>")
		}
		return &Command{Intent: IntentProjectsFor, OrgUnit: rest}, nil
	case hasKeyword(lower, "close project"):
		return singleCode(IntentCloseProject, text, "close project")
	case hasKeyword(lower, "cancel project"):
		return codeWithReason(IntentCancelProject, text, "cancel project", true)
	case hasKeyword(lower, "request payment"):
		return singleCode(IntentRequestPayment, text, "request payment")
	case hasKeyword(lower, "mark paid"):
		return singleCode(IntentMarkPaid, text, "mark paid")
	case hasKeyword(lower, "status"):
		return codeList(IntentStatus, text, "status")
	case hasKeyword(lower, "approve"):
		return codeList(IntentApprove, text, "approve")
	case hasKeyword(lower, "select"):
		return singleCode(IntentSelect, text, "select")
	case hasKeyword(lower, "cancel"):
		return codeWithReason(IntentCancel, text, "cancel", true)
	case hasKeyword(lower, "history"):
		return singleCode(IntentHistory, text, "history")
	case hasKeyword(lower, "comment"):
		return parseComment(text)
	case hasKeyword(lower, "attach"):
		return singleCode(IntentAttach, text, "attach")
	case hasKeyword(lower, "close"):
		return singleCode(IntentCloseFolio, text, "close")
	}

	return &Command{Intent: IntentUnknown}, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func hasKeyword(lower, keyword string) bool {
	if !strings.HasPrefix(lower, keyword) {
		return false
	}
	rest := lower[len(keyword):]
	return rest == "" || rest[0] == ' ' || rest[0] == ':'
}

func rest(text, keyword string) string {
	return strings.TrimSpace(text[len(keyword):])
}

func singleCode(intent Intent, text, keyword string) (*Command, error) {
	code := strings.ToUpper(rest(text, keyword))
	if code == "" {
		return nil, errors.InvalidInput("code", "usage: "+keyword+" <code>")
	}
	if strings.ContainsAny(code, " \t") {
		return nil, errors.InvalidInput("code", keyword+" takes exactly one code")
	}
	return &Command{Intent: intent, Code: code}, nil
}

func codeList(intent Intent, text, keyword string) (*Command, error) {
	fields := strings.Fields(rest(text, keyword))
	if len(fields) == 0 {
		return nil, errors.InvalidInput("code", "usage: "+keyword+" <code> [<code> ...]")
	}
	codes := make([]string, len(fields))
	for i, f := range fields {
		codes[i] = strings.ToUpper(f)
	}
	return &Command{Intent: intent, Codes: codes}, nil
}

// codeWithReason parses "<keyword> <code> reason: <text>".
func codeWithReason(intent Intent, text, keyword string, reasonRequired bool) (*Command, error) {
	body := rest(text, keyword)

	reason := ""
	if i := indexCaseInsensitive(body, "reason:"); i >= 0 {
		reason = strings.TrimSpace(body[i+len("reason:"):])
		body = strings.TrimSpace(body[:i])
	}
	if body == "" {
		return nil, errors.InvalidInput("code", "usage: "+keyword+" <code> reason: <text>")
	}
	if reasonRequired && reason == "" {
		return nil, errors.InvalidInput("reason", "a reason is required, e.g. '"+keyword+" F-202602-001 reason: duplicate request'")
	}
	return &Command{Intent: intent, Code: strings.ToUpper(body), Reason: reason}, nil
}

func parseComment(text string) (*Command, error) {
	body := rest(text, "comment")
	i := strings.Index(body, ":")
	if i < 0 {
		return nil, errors.InvalidInput("comment", "usage: comment <code>: <text>")
	}
	code := strings.ToUpper(strings.TrimSpace(body[:i]))
	msg := strings.TrimSpace(body[i+1:])
	if code == "" || msg == "" {
		return nil, errors.InvalidInput("comment", "usage: comment <code>: <text>")
	}
	return &Command{Intent: IntentComment, Code: code, Text: msg}, nil
}

// parseCreateFolio parses
// "create folio <purpose>; amount: 1500.50; category: workshop; unit: AT-15;
//  beneficiary: ACME; project: PRJ-202602-001 [urgent]".
func parseCreateFolio(text string) (*Command, error) {
	body := rest(text, "create folio")
	fields := &FolioFields{}

	// The urgent flag may appear anywhere.
	if cleaned, found := stripWord(body, "urgent"); found {
		fields.Urgent = true
		body = cleaned
	}

	segments := strings.Split(body, ";")
	fields.Purpose = strings.TrimSpace(segments[0])
	if fields.Purpose == "" {
		return nil, errors.InvalidInput("purpose", "usage: create folio <purpose>; amount: <n>; category: <c>")
	}

	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		i := strings.Index(seg, ":")
		if i < 0 {
			return nil, errors.InvalidInput("field", "expected 'key: value', got '"+seg+"'")
		}
		key := strings.ToLower(strings.TrimSpace(seg[:i]))
		value := strings.TrimSpace(seg[i+1:])

		switch key {
		case "amount":
			amount, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
			if err != nil {
				return nil, errors.InvalidInput("amount", "'"+value+"' is not a valid amount")
			}
			fields.Amount = amount
			fields.HasAmount = true
		case "category":
			fields.Category = value
		case "subcategory":
			fields.Subcategory = value
		case "unit":
			fields.UnitRef = strings.ToUpper(value)
		case "beneficiary":
			fields.Beneficiary = value
		case "project":
			fields.ProjectCode = strings.ToUpper(value)
		default:
			return nil, errors.InvalidInput("field", "unknown field '"+key+"'")
		}
	}

	return &Command{Intent: IntentCreateFolio, Folio: fields}, nil
}

// parseCreateProject parses
// "create project <name>; unit: AT-15; start: 2026-02-01; end: 2026-06-30".
func parseCreateProject(text string) (*Command, error) {
	body := rest(text, "create project")
	segments := strings.Split(body, ";")

	fields := &ProjectFields{Name: strings.TrimSpace(segments[0])}
	if fields.Name == "" {
		return nil, errors.InvalidInput("name", "usage: create project <name>; unit: <u>; start: <date>")
	}

	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		i := strings.Index(seg, ":")
		if i < 0 {
			return nil, errors.InvalidInput("field", "expected 'key: value', got '"+seg+"'")
		}
		key := strings.ToLower(strings.TrimSpace(seg[:i]))
		value := strings.TrimSpace(seg[i+1:])

		switch key {
		case "unit":
			fields.OrgUnit = strings.ToUpper(value)
		case "start":
			date, err := time.Parse("2006-01-02", value)
			if err != nil {
				return nil, errors.InvalidInput("start", "invalid date format, expected YYYY-MM-DD")
			}
			fields.StartDate = date
		case "end":
			date, err := time.Parse("2006-01-02", value)
			if err != nil {
				return nil, errors.InvalidInput("end", "invalid date format, expected YYYY-MM-DD")
			}
			fields.EndDate = &date
		default:
			return nil, errors.InvalidInput("field", "unknown field '"+key+"'")
		}
	}

	return &Command{Intent: IntentCreateProject, Project: fields}, nil
}

func stripWord(s, word string) (string, bool) {
	fields := strings.Fields(s)
	out := fields[:0]
	found := false
	for _, f := range fields {
		if strings.EqualFold(strings.Trim(f, "[]"), word) {
			found = true
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " "), found
}

func indexCaseInsensitive(s, sub string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(sub))
}
