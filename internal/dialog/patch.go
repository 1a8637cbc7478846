package dialog

// Op names a client-side effect. The client runtime applies patches
// verbatim and holds no interaction logic of its own.
type Op string

const (
	OpSetHidden  Op = "setHidden"  // toggle aria-hidden on a target element
	OpScrollLock Op = "scrollLock" // toggle the page scroll lock
	OpNotice     Op = "notice"     // show a notice banner
	OpScrollTo   Op = "scrollTo"   // smooth-scroll a target into view
)

// Notice levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// Patch is one effect emitted by the controller, serialized inside the
// session response envelope. Unused fields are omitted on the wire;
// Hidden and Locked are pointers so that explicit false survives.
type Patch struct {
	Op     Op     `json:"op"`
	Target string `json:"target,omitempty"`
	Hidden *bool  `json:"hidden,omitempty"`
	Locked *bool  `json:"locked,omitempty"`
	Text   string `json:"text,omitempty"`
	Level  string `json:"level,omitempty"`
}

// SetHidden builds a visibility patch for the target element.
func SetHidden(target string, hidden bool) Patch {
	return Patch{Op: OpSetHidden, Target: target, Hidden: &hidden}
}

// ScrollLock builds a page scroll-lock patch.
func ScrollLock(locked bool) Patch {
	return Patch{Op: OpScrollLock, Locked: &locked}
}

// Notice builds a notice banner patch.
func Notice(text, level string) Patch {
	return Patch{Op: OpNotice, Text: text, Level: level}
}

// ScrollTo builds a smooth-scroll patch for the target element.
func ScrollTo(target string) Patch {
	return Patch{Op: OpScrollTo, Target: target}
}
