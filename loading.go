package vivid

// LoadingIndicator is notified around refresh operations and while include
// fetches are in flight. Implementations must tolerate nested Show/Hide
// pairs.
type LoadingIndicator interface {
	Show()
	Hide()
}

type nopIndicator struct{}

func (nopIndicator) Show() {}
func (nopIndicator) Hide() {}

type funcIndicator struct {
	show, hide func()
}

func (f funcIndicator) Show() {
	if f.show != nil {
		f.show()
	}
}

func (f funcIndicator) Hide() {
	if f.hide != nil {
		f.hide()
	}
}

// IndicatorFuncs adapts a show/hide callback pair into a LoadingIndicator.
func IndicatorFuncs(show, hide func()) LoadingIndicator {
	return funcIndicator{show: show, hide: hide}
}
