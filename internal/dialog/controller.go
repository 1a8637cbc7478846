// Package dialog implements the session-scoped controller behind the
// account dialog and the page's other interaction triggers. One controller
// exists per connected session; it owns the dialog's visibility state and
// answers every action with the patches the client must apply.
package dialog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/signportal/signportal"
)

// State is the dialog's visibility state. Exactly one value holds at any
// time. State lives only for the life of the session and is never persisted.
type State int

const (
	StateClosed State = iota
	StateOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Hooks is the callback set a controller is constructed with. Nil hooks are
// valid: the dialog form then acknowledges and closes without persisting.
type Hooks struct {
	// AccountSubmit runs for the dialog's own form. A nil return means the
	// registration succeeded; an error is shown to the visitor and keeps
	// the dialog open.
	AccountSubmit func(fields map[string]string) error

	// FormSubmit observes placeholder form submissions. It never affects
	// the patches emitted.
	FormSubmit func(label string, fields map[string]string)
}

// Controller drives one session's dialog. All methods are safe for
// concurrent use; each action is applied atomically in arrival order.
//
// Every operation is a defensive no-op when the page has no dialog bound or
// a referenced element is absent: nil patches, no error.
type Controller struct {
	mu           sync.Mutex
	state        State
	scrollLocked bool
	bindings     *signportal.Bindings
	hooks        Hooks
}

// New creates a controller over the page's bindings. A nil bindings value
// behaves like a page with no dialog and no forms.
func New(bindings *signportal.Bindings, hooks Hooks) *Controller {
	return &Controller{bindings: bindings, hooks: hooks}
}

// IsOpen reports whether the dialog is currently open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// ScrollLocked reports whether the page scroll is locked. It is true
// exactly when the dialog is open.
func (c *Controller) ScrollLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrollLocked
}

// Open opens the dialog. Opening an open dialog, or a page without one,
// returns nil and changes nothing.
func (c *Controller) Open() []Patch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open()
}

// Close closes the dialog. Closing a closed dialog, or a page without one,
// returns nil and changes nothing.
func (c *Controller) Close() []Patch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}

// HandleAction dispatches a session action and returns the patches to
// apply. Unknown actions return an error; the caller reports it on the
// envelope and keeps the session alive.
func (c *Controller) HandleAction(action string, data map[string]interface{}) ([]Patch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch strings.ToLower(action) {
	case "open":
		// Demo-request triggers route here too; demo is an alias of open.
		return c.open(), nil
	case "close":
		return c.close(), nil
	case "backdrop":
		return c.backdrop(data), nil
	case "scroll":
		return c.scrollToLogin(), nil
	case "submit":
		return c.submit(data), nil
	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}
}

func (c *Controller) dialog() *signportal.DialogBinding {
	if c.bindings == nil {
		return nil
	}
	return c.bindings.Dialog
}

func (c *Controller) open() []Patch {
	d := c.dialog()
	if d == nil || c.state == StateOpen {
		return nil
	}
	c.state = StateOpen
	c.scrollLocked = true
	return []Patch{
		SetHidden(d.ID, false),
		ScrollLock(true),
	}
}

func (c *Controller) close() []Patch {
	d := c.dialog()
	if d == nil || c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	c.scrollLocked = false
	return []Patch{
		SetHidden(d.ID, true),
		ScrollLock(false),
	}
}

// backdrop closes the dialog only when the click landed on the dialog
// container itself. Clicks on inner content bubble up with the inner
// element as target and must not close.
func (c *Controller) backdrop(data map[string]interface{}) []Patch {
	target, _ := data["target"].(string)
	d := c.dialog()
	if d == nil || target != d.ID {
		return nil
	}
	return c.close()
}

// scrollToLogin emits a scroll patch for the login section. Pages without
// one get nil. Dialog state is never touched.
func (c *Controller) scrollToLogin() []Patch {
	if c.bindings == nil || c.bindings.LoginSectionID == "" {
		return nil
	}
	return []Patch{ScrollTo(c.bindings.LoginSectionID)}
}

// submit intercepts a form submission. The dialog's own form runs the
// account hook; every other bound form gets a fixed acknowledgment naming
// its section. Unknown form ids are ignored.
func (c *Controller) submit(data map[string]interface{}) []Patch {
	formID, _ := data["form"].(string)
	form := c.formByID(formID)
	if form == nil {
		return nil
	}

	fields := submitFields(data)

	if form.InDialog {
		if c.hooks.AccountSubmit != nil {
			if err := c.hooks.AccountSubmit(fields); err != nil {
				return []Patch{Notice(err.Error(), LevelError)}
			}
		}
		// Success leaves the dialog closed no matter what state it was in.
		patches := []Patch{Notice("Registration successful!", LevelSuccess)}
		return append(patches, c.close()...)
	}

	if c.hooks.FormSubmit != nil {
		c.hooks.FormSubmit(form.Label, fields)
	}
	return []Patch{Notice(fmt.Sprintf("Thanks! The %s team will be in touch.", form.Label), LevelSuccess)}
}

func (c *Controller) formByID(id string) *signportal.FormBinding {
	if c.bindings == nil || id == "" {
		return nil
	}
	for i := range c.bindings.Forms {
		if c.bindings.Forms[i].ID == id {
			return &c.bindings.Forms[i]
		}
	}
	return nil
}

// submitFields extracts the submitted field values from the action data.
// Non-string values are formatted; nested structures are not supported.
func submitFields(data map[string]interface{}) map[string]string {
	fields := make(map[string]string)
	raw, ok := data["fields"].(map[string]interface{})
	if !ok {
		return fields
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return fields
}
