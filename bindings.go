package signportal

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Interaction markers scanned from rendered page HTML. Authors put these
// attributes on plain elements in embedded markup; the binder turns them
// into bindings the session controller can address.
const (
	markerOpen   = "data-signup-open"
	markerClose  = "data-signup-close"
	markerScroll = "data-scroll-login"
	markerDemo   = "data-request-demo"
)

// bindPage scans rendered HTML for interaction markers and returns the
// bindings plus the markup to serve. Elements that need addressing but have
// no id get stable synthesized ids (spt-trigger-N, form-N) in document
// order; the returned HTML contains the injections. When nothing needed an
// id the input HTML is returned byte-for-byte.
func bindPage(staticHTML string, source []byte, file string) (Bindings, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(staticHTML))
	if err != nil {
		return Bindings{}, "", NewParseError(file, 1, fmt.Sprintf("Failed to parse page HTML: %v", err)).
			WithHint("Check the embedded HTML for unclosed tags or stray angle brackets.")
	}

	var b Bindings
	mutated := false

	// Dialog container: at most one per page.
	dialogSel := doc.Find("#" + DialogElementID)
	if dialogSel.Length() > 1 {
		return Bindings{}, "", NewParseError(file, lineOfN(source, `id="`+DialogElementID+`"`, 2),
			fmt.Sprintf("Duplicate %q element: the account dialog must be unique", DialogElementID)).
			WithHint("Keep a single dialog container and point every trigger at it.").
			WithRelated(fmt.Sprintf("First dialog declared at line %d", lineOf(source, `id="`+DialogElementID+`"`)))
	}
	dialogSel = dialogSel.First()
	if dialogSel.Length() == 1 {
		b.Dialog = &DialogBinding{ID: DialogElementID}
	}
	dialogForm := dialogSel.Find("form").First()

	// Triggers, in document order. An element carrying several markers gets
	// one binding; the first marker below wins.
	triggerSeq := 0
	seen := map[string]int{}
	var bindErr error
	doc.Find("[" + markerOpen + "], [" + markerClose + "], [" + markerScroll + "], [" + markerDemo + "]").
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			marker, kind := classifyTrigger(s)
			seen[marker]++

			// An open trigger inside the account form would fight the form's
			// own submit handling. That is an authoring mistake.
			if kind == TriggerOpen || kind == TriggerDemo {
				if enclosing := s.Closest("form"); enclosing.Length() > 0 &&
					dialogForm.Length() > 0 && enclosing.IsSelection(dialogForm) {
					bindErr = NewParseError(file, lineOfN(source, marker, seen[marker]),
						fmt.Sprintf("%s trigger is nested inside the account dialog's form", marker)).
						WithHint("Move the trigger outside the form; the form submits through its own button.")
					return false
				}
			}

			id, ok := s.Attr("id")
			if !ok || id == "" {
				triggerSeq++
				id = fmt.Sprintf("spt-trigger-%d", triggerSeq)
				s.SetAttr("id", id)
				mutated = true
			}

			tb := TriggerBinding{ElementID: id, Kind: kind}
			if kind == TriggerScroll {
				tb.TargetID = LoginElementID
			}
			b.Triggers = append(b.Triggers, tb)
			return true
		})
	if bindErr != nil {
		return Bindings{}, "", bindErr
	}

	// Forms, in document order. The one inside the dialog is the dialog's own.
	formSeq := 0
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("id")
		if !ok || id == "" {
			formSeq++
			id = fmt.Sprintf("form-%d", formSeq)
			s.SetAttr("id", id)
			mutated = true
		}

		inDialog := s.Closest("#"+DialogElementID).Length() > 0
		b.Forms = append(b.Forms, FormBinding{
			ID:       id,
			Label:    formLabel(s),
			InDialog: inDialog,
		})
		if inDialog && b.Dialog != nil && b.Dialog.FormID == "" {
			b.Dialog.FormID = id
		}
	})

	if doc.Find("#" + LoginElementID).Length() > 0 {
		b.LoginSectionID = LoginElementID
	}
	if doc.Find("#" + YearElementID).Length() > 0 {
		b.YearElementID = YearElementID
	}

	if !mutated {
		return b, staticHTML, nil
	}

	boundHTML, err := doc.Find("body").Html()
	if err != nil {
		return Bindings{}, "", fmt.Errorf("failed to serialize page HTML: %w", err)
	}
	return b, boundHTML, nil
}

// classifyTrigger returns the marker attribute an element carries and the
// trigger kind it maps to.
func classifyTrigger(s *goquery.Selection) (string, TriggerKind) {
	if _, ok := s.Attr(markerOpen); ok {
		return markerOpen, TriggerOpen
	}
	if _, ok := s.Attr(markerClose); ok {
		return markerClose, TriggerClose
	}
	if _, ok := s.Attr(markerScroll); ok {
		return markerScroll, TriggerScroll
	}
	return markerDemo, TriggerDemo
}

// formLabel derives the display label for a form: the text of the first
// heading of the nearest enclosing section, or "Account" when there is no
// such section or it has no heading.
func formLabel(s *goquery.Selection) string {
	section := s.Closest("section")
	if section.Length() == 0 {
		return "Account"
	}
	heading := strings.TrimSpace(section.Find("h1, h2, h3, h4, h5, h6").First().Text())
	if heading == "" {
		return "Account"
	}
	return heading
}
